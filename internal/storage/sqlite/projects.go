package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

func encodeStringList(list []string) string {
	if list == nil {
		list = []string{}
	}
	raw, _ := json.Marshal(list)
	return string(raw)
}

func decodeStringList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode string list: %w", err)
	}
	return list, nil
}

// CreateCommittee inserts or replaces a committee and its role sets.
func (q queries) CreateCommittee(ctx context.Context, committee *types.Committee) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO committees (name, full_name, is_podling, members, committers, participants)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		committee.Name, committee.FullName, boolToInt(committee.IsPodling),
		encodeStringList(committee.Members), encodeStringList(committee.Committers),
		encodeStringList(committee.Participants),
	)
	if err != nil {
		return fmt.Errorf("failed to insert committee: %w", err)
	}
	return nil
}

// GetCommittee fetches one committee by name.
func (q queries) GetCommittee(ctx context.Context, name string) (*types.Committee, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT name, full_name, is_podling, members, committers, participants
		FROM committees WHERE name = ?
	`, name)
	return scanCommittee(row)
}

func scanCommittee(row *sql.Row) (*types.Committee, error) {
	var c types.Committee
	var podling int
	var members, committers, participants string
	err := row.Scan(&c.Name, &c.FullName, &podling, &members, &committers, &participants)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan committee: %w", err)
	}
	c.IsPodling = podling != 0
	if c.Members, err = decodeStringList(members); err != nil {
		return nil, err
	}
	if c.Committers, err = decodeStringList(committers); err != nil {
		return nil, err
	}
	if c.Participants, err = decodeStringList(participants); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateProject inserts or replaces a project.
func (q queries) CreateProject(ctx context.Context, project *types.Project) error {
	committee := sql.NullString{String: project.CommitteeName, Valid: project.CommitteeName != ""}
	_, err := q.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects (name, full_name, short_display_name, committee_name)
		VALUES (?, ?, ?, ?)
	`, project.Name, project.FullName, project.ShortDisplayName, committee)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject fetches one project with its committee and release policy.
func (q queries) GetProject(ctx context.Context, name string) (*types.Project, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT name, full_name, short_display_name, committee_name
		FROM projects WHERE name = ?
	`, name)

	var p types.Project
	var committee sql.NullString
	err := row.Scan(&p.Name, &p.FullName, &p.ShortDisplayName, &committee)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if committee.Valid {
		p.CommitteeName = committee.String
		c, err := q.GetCommittee(ctx, committee.String)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		p.Committee = c
	}

	policy, err := q.getReleasePolicy(ctx, p.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	p.ReleasePolicy = policy
	return &p, nil
}

// SetReleasePolicy inserts or replaces the project's release policy.
func (q queries) SetReleasePolicy(ctx context.Context, policy *types.ReleasePolicy) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO release_policies (
			project_name, min_hours, mailto_addresses, github_repository,
			compose_workflow_path, vote_workflow_path, finish_workflow_path
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		policy.ProjectName, policy.MinHours, encodeStringList(policy.MailtoAddresses),
		policy.GitHubRepository, encodeStringList(policy.ComposeWorkflowPath),
		encodeStringList(policy.VoteWorkflowPath), encodeStringList(policy.FinishWorkflowPath),
	)
	if err != nil {
		return fmt.Errorf("failed to insert release policy: %w", err)
	}
	return nil
}

func (q queries) getReleasePolicy(ctx context.Context, projectName string) (*types.ReleasePolicy, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT project_name, min_hours, mailto_addresses, github_repository,
		       compose_workflow_path, vote_workflow_path, finish_workflow_path
		FROM release_policies WHERE project_name = ?
	`, projectName)
	return scanReleasePolicy(row)
}

// ReleasePolicyByWorkflow finds the policy whose allowlist for the phase
// contains workflowPath and whose repository name matches. Allowlists are
// JSON arrays, searched with json_each.
func (q queries) ReleasePolicyByWorkflow(ctx context.Context, repositoryName string, phase types.WorkflowPhase, workflowPath string) (*types.ReleasePolicy, error) {
	var column string
	switch phase {
	case types.WorkflowCompose:
		column = "compose_workflow_path"
	case types.WorkflowVote:
		column = "vote_workflow_path"
	case types.WorkflowFinish:
		column = "finish_workflow_path"
	default:
		return nil, fmt.Errorf("unknown workflow phase %q", phase)
	}

	row := q.q.QueryRowContext(ctx, `
		SELECT project_name, min_hours, mailto_addresses, github_repository,
		       compose_workflow_path, vote_workflow_path, finish_workflow_path
		FROM release_policies
		WHERE github_repository = ?
		  AND EXISTS (SELECT 1 FROM json_each(`+column+`) WHERE json_each.value = ?)
		LIMIT 1
	`, repositoryName, workflowPath)
	return scanReleasePolicy(row)
}

func scanReleasePolicy(row *sql.Row) (*types.ReleasePolicy, error) {
	var p types.ReleasePolicy
	var mailto, compose, vote, finish string
	err := row.Scan(&p.ProjectName, &p.MinHours, &mailto, &p.GitHubRepository, &compose, &vote, &finish)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan release policy: %w", err)
	}
	if p.MailtoAddresses, err = decodeStringList(mailto); err != nil {
		return nil, err
	}
	if p.ComposeWorkflowPath, err = decodeStringList(compose); err != nil {
		return nil, err
	}
	if p.VoteWorkflowPath, err = decodeStringList(vote); err != nil {
		return nil, err
	}
	if p.FinishWorkflowPath, err = decodeStringList(finish); err != nil {
		return nil, err
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
