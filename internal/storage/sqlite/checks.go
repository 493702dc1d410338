package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// AddCheckResult records one automated check outcome against a revision.
func (q queries) AddCheckResult(ctx context.Context, result *types.CheckResult) error {
	if result.Created.IsZero() {
		result.Created = time.Now().UTC()
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO check_results (release_name, revision_number, checker, status, message, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.ReleaseName, result.RevisionNumber, result.Checker,
		string(result.Status), result.Message, result.Created)
	if err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}
	result.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read check result id: %w", err)
	}
	return nil
}

// HasFailingChecks reports whether any check failed for the revision.
func (q queries) HasFailingChecks(ctx context.Context, releaseName, revisionNumber string) (bool, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM check_results
		WHERE release_name = ? AND revision_number = ? AND status = ?
	`, releaseName, revisionNumber, string(types.CheckFailure))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count failing checks: %w", err)
	}
	return count > 0, nil
}
