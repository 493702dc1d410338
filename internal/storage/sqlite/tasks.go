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

const taskColumns = `id, task_type, status, task_args, result, error, added,
	project_name, version_name, revision_number, asf_uid`

// CreateTask enqueues a task and fills in its id and added timestamp.
func (q queries) CreateTask(ctx context.Context, task *types.Task) error {
	if task.Status == "" {
		task.Status = types.TaskQueued
	}
	if task.RevisionNumber == "" {
		task.RevisionNumber = types.LatestRevision
	}
	if task.Added.IsZero() {
		task.Added = time.Now().UTC()
	}
	args := string(task.Args)
	if args == "" {
		args = "{}"
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO tasks (task_type, status, task_args, added, project_name, version_name, revision_number, asf_uid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(task.Type), string(task.Status), args, task.Added,
		task.ProjectName, task.VersionName, task.RevisionNumber, task.ASFUID)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	task.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}
	return nil
}

// GetTask fetches one task by id.
func (q queries) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// UpdateTaskStatus transitions a task and records its result or error.
func (q queries) UpdateTaskStatus(ctx context.Context, id int64, status types.TaskStatus, result []byte, taskError string) error {
	var resultValue any
	if result != nil {
		resultValue = string(result)
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ? WHERE id = ?
	`, string(status), resultValue, taskError, id)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read task update result: %w", err)
	}
	if affected != 1 {
		return storage.ErrNotFound
	}
	return nil
}

// TasksForRelease lists all tasks of a release, newest first.
func (q queries) TasksForRelease(ctx context.Context, projectName, versionName string) ([]*types.Task, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_name = ? AND version_name = ?
		ORDER BY added DESC, id DESC
	`, projectName, versionName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// TasksOngoing counts queued and active tasks bound to the given revision.
// An empty revisionNumber binds to the release's latest revision through a
// subquery on the maximum revision seq.
func (q queries) TasksOngoing(ctx context.Context, projectName, versionName, revisionNumber string) (int, error) {
	count, _, err := q.tasksOngoing(ctx, projectName, versionName, revisionNumber)
	return count, err
}

// TasksOngoingRevision is TasksOngoing plus the resolved latest revision
// number, for callers that need both in one round trip.
func (q queries) TasksOngoingRevision(ctx context.Context, projectName, versionName, revisionNumber string) (int, string, error) {
	return q.tasksOngoing(ctx, projectName, versionName, revisionNumber)
}

func (q queries) tasksOngoing(ctx context.Context, projectName, versionName, revisionNumber string) (int, string, error) {
	releaseName := types.ReleaseName(projectName, versionName)

	// An explicit revision matches only tasks bound to exactly that
	// revision. Without one, tasks at the resolved latest revision and at
	// the "latest" sentinel both count.
	revisionFilter := "AND revision_number = ?"
	revisionArg := any(revisionNumber)
	if revisionNumber == "" {
		revisionFilter = "AND revision_number IN ((SELECT number FROM latest), ?)"
		revisionArg = types.LatestRevision
	}

	row := q.q.QueryRowContext(ctx, `
		WITH latest AS (
			SELECT number FROM revisions
			WHERE release_name = ?
			ORDER BY seq DESC LIMIT 1
		)
		SELECT
			(SELECT COUNT(*) FROM tasks
			 WHERE project_name = ? AND version_name = ?
			   AND status IN (?, ?)
			   `+revisionFilter+`),
			(SELECT number FROM latest)
	`, releaseName, projectName, versionName,
		string(types.TaskQueued), string(types.TaskActive), revisionArg)

	var count int
	var latest sql.NullString
	if err := row.Scan(&count, &latest); err != nil {
		return 0, "", fmt.Errorf("failed to count ongoing tasks: %w", err)
	}
	return count, latest.String, nil
}

// ReleaseLatestVoteTask finds the newest vote_initiate task that has
// finished and carries a result. With anyStatus the status filter is
// disabled, which the dev environment uses.
func (q queries) ReleaseLatestVoteTask(ctx context.Context, projectName, versionName string, anyStatus bool) (*types.Task, error) {
	statusFilter := "AND status NOT IN (?, ?)"
	args := []any{projectName, versionName, string(types.TaskVoteInitiate),
		string(types.TaskQueued), string(types.TaskActive)}
	if anyStatus {
		statusFilter = ""
		args = args[:3]
	}
	row := q.q.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_name = ? AND version_name = ? AND task_type = ?
		  `+statusFilter+`
		  AND result IS NOT NULL
		ORDER BY added DESC, id DESC
		LIMIT 1
	`, args...)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*types.Task, error) {
	var t types.Task
	var taskType, status, args string
	var result sql.NullString
	err := row.Scan(&t.ID, &taskType, &status, &args, &result, &t.Error, &t.Added,
		&t.ProjectName, &t.VersionName, &t.RevisionNumber, &t.ASFUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Type = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	t.Args = []byte(args)
	if result.Valid {
		t.Result = []byte(result.String)
	}
	return &t, nil
}

func scanTaskRows(rows *sql.Rows) (*types.Task, error) {
	var t types.Task
	var taskType, status, args string
	var result sql.NullString
	err := rows.Scan(&t.ID, &taskType, &status, &args, &result, &t.Error, &t.Added,
		&t.ProjectName, &t.VersionName, &t.RevisionNumber, &t.ASFUID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Type = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	t.Args = []byte(args)
	if result.Valid {
		t.Result = []byte(result.String)
	}
	return &t, nil
}
