// Package types defines the core domain types for release-vote coordination.
package types

import (
	"fmt"
	"time"
)

// ReleasePhase tracks where a release is in its lifecycle.
type ReleasePhase string

const (
	PhaseCandidateDraft ReleasePhase = "release_candidate_draft"
	PhaseCandidate      ReleasePhase = "release_candidate"
	PhasePreview        ReleasePhase = "release_preview"
	PhaseRelease        ReleasePhase = "release"
)

// TaskStatus is the state of a queued unit of work.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskType discriminates task payloads.
type TaskType string

const (
	TaskVoteInitiate TaskType = "vote_initiate"
	TaskMessageSend  TaskType = "message_send"
)

// CheckStatus is the outcome of a single automated check.
type CheckStatus string

const (
	CheckSuccess CheckStatus = "success"
	CheckWarning CheckStatus = "warning"
	CheckFailure CheckStatus = "failure"
)

// LatestRevision is the sentinel revision number meaning "bind to the
// release's latest revision at query time".
const LatestRevision = "latest"

// Committee is a project management committee, podling PPMC included.
type Committee struct {
	Name         string   `json:"name"`
	FullName     string   `json:"full_name,omitempty"`
	IsPodling    bool     `json:"is_podling"`
	Members      []string `json:"members"`
	Committers   []string `json:"committers"`
	Participants []string `json:"participants"`
}

// DisplayName returns the human-facing committee name, with a PPMC suffix
// for podlings.
func (c *Committee) DisplayName() string {
	name := c.FullName
	if name == "" {
		name = c.Name
	}
	if c.IsPodling {
		return name + " (PPMC)"
	}
	return name
}

// HasMember reports whether uid carries a binding vote on this committee.
func (c *Committee) HasMember(uid string) bool {
	return contains(c.Members, uid)
}

// HasCommitter reports whether uid is a committer on this committee.
func (c *Committee) HasCommitter(uid string) bool {
	return contains(c.Committers, uid)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// WorkflowPhase selects one of the three trusted-workflow allowlists on a
// release policy.
type WorkflowPhase string

const (
	WorkflowCompose WorkflowPhase = "compose"
	WorkflowVote    WorkflowPhase = "vote"
	WorkflowFinish  WorkflowPhase = "finish"
)

// ReleasePolicy configures voting and trusted automation for one project.
type ReleasePolicy struct {
	ProjectName         string   `json:"project_name"`
	MinHours            int      `json:"min_hours"`
	MailtoAddresses     []string `json:"mailto_addresses"`
	GitHubRepository    string   `json:"github_repository"`
	ComposeWorkflowPath []string `json:"compose_workflow_path"`
	VoteWorkflowPath    []string `json:"vote_workflow_path"`
	FinishWorkflowPath  []string `json:"finish_workflow_path"`
}

// MinHoursOrNone returns the configured minimum vote duration. A zero policy
// value means no minimum, reported as ok=false.
func (p *ReleasePolicy) MinHoursOrNone() (int, bool) {
	if p == nil || p.MinHours == 0 {
		return 0, false
	}
	return p.MinHours, true
}

// WorkflowPaths returns the allowlist for the given phase.
func (p *ReleasePolicy) WorkflowPaths(phase WorkflowPhase) []string {
	switch phase {
	case WorkflowCompose:
		return p.ComposeWorkflowPath
	case WorkflowVote:
		return p.VoteWorkflowPath
	case WorkflowFinish:
		return p.FinishWorkflowPath
	}
	return nil
}

// Project is a top-level project or podling.
type Project struct {
	Name             string         `json:"name"`
	FullName         string         `json:"full_name,omitempty"`
	ShortDisplayName string         `json:"short_display_name,omitempty"`
	CommitteeName    string         `json:"committee_name,omitempty"`
	Committee        *Committee     `json:"-"`
	ReleasePolicy    *ReleasePolicy `json:"-"`
}

// DisplayName returns the human-facing project name.
func (p *Project) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Name
}

// ReleaseName derives the canonical release key from project and version.
func ReleaseName(projectName, version string) string {
	return projectName + "-" + version
}

// Release is one versioned release of a project, in some phase.
type Release struct {
	Name                 string       `json:"name"`
	ProjectName          string       `json:"project_name"`
	Version              string       `json:"version"`
	Phase                ReleasePhase `json:"phase"`
	Created              time.Time    `json:"created"`
	LatestRevisionNumber string       `json:"latest_revision_number,omitempty"`
	PodlingThreadID      string       `json:"podling_thread_id,omitempty"`
	VoteStarted          *time.Time   `json:"vote_started,omitempty"`

	Project *Project `json:"-"`
}

// Committee returns the committee owning this release, if loaded.
func (r *Release) Committee() *Committee {
	if r.Project == nil {
		return nil
	}
	return r.Project.Committee
}

// Validate checks the release name invariant.
func (r *Release) Validate() error {
	if want := ReleaseName(r.ProjectName, r.Version); r.Name != want {
		return fmt.Errorf("release name must be %q, got %q", want, r.Name)
	}
	return nil
}

// Revision is a snapshot of a release's artifact set. Seq defines the total
// order within a release; the maximum seq is the latest revision.
type Revision struct {
	ReleaseName string    `json:"release_name"`
	Number      string    `json:"number"`
	Seq         int       `json:"seq"`
	ASFUID      string    `json:"asfuid"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
}

// CheckResult records one automated check outcome against a revision.
type CheckResult struct {
	ID             int64       `json:"id"`
	ReleaseName    string      `json:"release_name"`
	RevisionNumber string      `json:"revision_number"`
	Checker        string      `json:"checker"`
	Status         CheckStatus `json:"status"`
	Message        string      `json:"message,omitempty"`
	Created        time.Time   `json:"created"`
}
