// Package storage defines the interface for release-vote storage backends.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrPhaseConflict is returned by atomic phase updates when the release is
// no longer in the expected phase, or a newer revision appeared.
var ErrPhaseConflict = errors.New("release phase conflict")

// Transaction exposes the subset of Storage operations that execute within
// a single database transaction.
//
//   - All operations share one connection; changes are invisible to other
//     connections until commit
//   - If the callback returns an error or panics, the transaction is rolled
//     back; on nil return it is committed
//   - Uses BEGIN IMMEDIATE to acquire the write lock early, which serializes
//     concurrent writers properly
type Transaction interface {
	GetProject(ctx context.Context, name string) (*types.Project, error)
	GetRelease(ctx context.Context, name string) (*types.Release, error)

	// PromoteRelease atomically moves a release from candidate draft to
	// candidate, guarded by the expected latest revision number. Returns
	// ErrPhaseConflict when the guard fails.
	PromoteRelease(ctx context.Context, releaseName, revisionNumber string) error
	UpdateReleasePhase(ctx context.Context, releaseName string, from, to types.ReleasePhase) error
	SetPodlingThreadID(ctx context.Context, releaseName, threadID string) error
	SetVoteStarted(ctx context.Context, releaseName string, at time.Time) error

	// CreateRevision assigns the next seq for the release and updates the
	// release's latest revision pointer.
	CreateRevision(ctx context.Context, revision *types.Revision) error

	CreateTask(ctx context.Context, task *types.Task) error
	TasksOngoing(ctx context.Context, projectName, versionName, revisionNumber string) (int, error)
	ReleaseLatestVoteTask(ctx context.Context, projectName, versionName string, anyStatus bool) (*types.Task, error)
}

// Storage defines the interface for release-vote storage backends.
type Storage interface {
	// Projects and committees
	CreateCommittee(ctx context.Context, committee *types.Committee) error
	GetCommittee(ctx context.Context, name string) (*types.Committee, error)
	CreateProject(ctx context.Context, project *types.Project) error
	GetProject(ctx context.Context, name string) (*types.Project, error)
	SetReleasePolicy(ctx context.Context, policy *types.ReleasePolicy) error

	// ReleasePolicyByWorkflow finds the policy whose allowlist for the given
	// phase contains workflowPath and whose repository name matches.
	ReleasePolicyByWorkflow(ctx context.Context, repositoryName string, phase types.WorkflowPhase, workflowPath string) (*types.ReleasePolicy, error)

	// Releases
	CreateRelease(ctx context.Context, release *types.Release) error
	GetRelease(ctx context.Context, name string) (*types.Release, error)
	ReleasesByPhase(ctx context.Context, projectName string, phase types.ReleasePhase) ([]*types.Release, error)
	AllReleases(ctx context.Context, projectName string) ([]*types.Release, error)

	// Revisions
	CreateRevision(ctx context.Context, revision *types.Revision) error
	GetRevision(ctx context.Context, releaseName, number string) (*types.Revision, error)
	LatestRevision(ctx context.Context, releaseName string) (*types.Revision, error)

	// Checks
	AddCheckResult(ctx context.Context, result *types.CheckResult) error
	HasFailingChecks(ctx context.Context, releaseName, revisionNumber string) (bool, error)

	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status types.TaskStatus, result []byte, taskError string) error
	TasksForRelease(ctx context.Context, projectName, versionName string) ([]*types.Task, error)

	// TasksOngoing counts queued and active tasks for the given revision.
	// An empty revisionNumber binds to the release's latest revision.
	TasksOngoing(ctx context.Context, projectName, versionName, revisionNumber string) (int, error)

	// TasksOngoingRevision is TasksOngoing plus the resolved latest revision.
	TasksOngoingRevision(ctx context.Context, projectName, versionName, revisionNumber string) (int, string, error)

	// ReleaseLatestVoteTask finds the newest vote_initiate task for the
	// release that is neither queued nor active and has a result. With
	// anyStatus the status filter is disabled (dev environment).
	ReleaseLatestVoteTask(ctx context.Context, projectName, versionName string, anyStatus bool) (*types.Task, error)

	// Transactions
	//
	// RunInTransaction executes fn within one database transaction. A nil
	// return commits; an error or panic rolls back.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error

	// UnderlyingDB returns the raw connection pool, for extensions that
	// create their own tables alongside the core schema.
	UnderlyingDB() *sql.DB
}

// Config holds database configuration.
type Config struct {
	// SQLite database file path
	Path string
}
