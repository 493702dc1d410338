package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

const releaseColumns = `name, project_name, version, phase, created,
	latest_revision_number, podling_thread_id, vote_started`

// CreateRelease inserts a new release. The name invariant is checked first.
func (q queries) CreateRelease(ctx context.Context, release *types.Release) error {
	if err := release.Validate(); err != nil {
		return err
	}
	if release.Created.IsZero() {
		release.Created = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO releases (name, project_name, version, phase, created)
		VALUES (?, ?, ?, ?, ?)
	`, release.Name, release.ProjectName, release.Version, string(release.Phase), release.Created)
	if err != nil {
		return fmt.Errorf("failed to insert release: %w", err)
	}
	return nil
}

// GetRelease fetches one release with its project, committee and policy.
func (q queries) GetRelease(ctx context.Context, name string) (*types.Release, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+releaseColumns+` FROM releases WHERE name = ?
	`, name)
	release, err := scanRelease(row)
	if err != nil {
		return nil, err
	}
	project, err := q.GetProject(ctx, release.ProjectName)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	release.Project = project
	return release, nil
}

// ReleasesByPhase lists a project's releases in one phase, newest first by
// creation time.
func (q queries) ReleasesByPhase(ctx context.Context, projectName string, phase types.ReleasePhase) ([]*types.Release, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+releaseColumns+` FROM releases
		WHERE project_name = ? AND phase = ?
		ORDER BY created DESC
	`, projectName, string(phase))
	if err != nil {
		return nil, fmt.Errorf("failed to query releases by phase: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReleases(rows)
}

// AllReleases lists every release of a project, in storage order. Version
// ordering is applied by the caller.
func (q queries) AllReleases(ctx context.Context, projectName string) ([]*types.Release, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+releaseColumns+` FROM releases WHERE project_name = ?
	`, projectName)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReleases(rows)
}

// PromoteRelease atomically moves a release from candidate draft to
// candidate. The update is guarded by the phase and by the latest revision
// number, so a concurrent upload of a newer revision aborts the promotion.
func (q queries) PromoteRelease(ctx context.Context, releaseName, revisionNumber string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE releases SET phase = ?
		WHERE name = ? AND phase = ? AND latest_revision_number = ?
	`, string(types.PhaseCandidate), releaseName, string(types.PhaseCandidateDraft), revisionNumber)
	if err != nil {
		return fmt.Errorf("failed to promote release: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read promote result: %w", err)
	}
	if affected != 1 {
		return storage.ErrPhaseConflict
	}
	return nil
}

// UpdateReleasePhase atomically moves a release between phases.
func (q queries) UpdateReleasePhase(ctx context.Context, releaseName string, from, to types.ReleasePhase) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE releases SET phase = ? WHERE name = ? AND phase = ?
	`, string(to), releaseName, string(from))
	if err != nil {
		return fmt.Errorf("failed to update release phase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read phase update result: %w", err)
	}
	if affected != 1 {
		return storage.ErrPhaseConflict
	}
	return nil
}

// SetPodlingThreadID records the round-one vote thread for a podling
// release. It may be set exactly once per two-round sequence.
func (q queries) SetPodlingThreadID(ctx context.Context, releaseName, threadID string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE releases SET podling_thread_id = ?
		WHERE name = ? AND podling_thread_id IS NULL
	`, threadID, releaseName)
	if err != nil {
		return fmt.Errorf("failed to set podling thread id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read thread id update result: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("podling thread id already set for %s", releaseName)
	}
	return nil
}

// SetVoteStarted records when the release entered the voting phase.
func (q queries) SetVoteStarted(ctx context.Context, releaseName string, at time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE releases SET vote_started = ? WHERE name = ?
	`, at.UTC(), releaseName)
	if err != nil {
		return fmt.Errorf("failed to set vote started: %w", err)
	}
	return nil
}

func scanRelease(row *sql.Row) (*types.Release, error) {
	var r types.Release
	var phase string
	var latestRevision, podlingThread sql.NullString
	var voteStarted sql.NullTime
	err := row.Scan(&r.Name, &r.ProjectName, &r.Version, &phase, &r.Created,
		&latestRevision, &podlingThread, &voteStarted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan release: %w", err)
	}
	r.Phase = types.ReleasePhase(phase)
	r.LatestRevisionNumber = latestRevision.String
	r.PodlingThreadID = podlingThread.String
	if voteStarted.Valid {
		t := voteStarted.Time
		r.VoteStarted = &t
	}
	return &r, nil
}

func scanReleases(rows *sql.Rows) ([]*types.Release, error) {
	var releases []*types.Release
	for rows.Next() {
		var r types.Release
		var phase string
		var latestRevision, podlingThread sql.NullString
		var voteStarted sql.NullTime
		err := rows.Scan(&r.Name, &r.ProjectName, &r.Version, &phase, &r.Created,
			&latestRevision, &podlingThread, &voteStarted)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		r.Phase = types.ReleasePhase(phase)
		r.LatestRevisionNumber = latestRevision.String
		r.PodlingThreadID = podlingThread.String
		if voteStarted.Valid {
			t := voteStarted.Time
			r.VoteStarted = &t
		}
		releases = append(releases, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate releases: %w", err)
	}
	return releases, nil
}
