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

// CreateRevision inserts a revision with the next seq for its release and
// updates the release's latest revision pointer. When Number is empty a
// zero-padded number is derived from the new seq.
func (q queries) CreateRevision(ctx context.Context, revision *types.Revision) error {
	var maxSeq sql.NullInt64
	row := q.q.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM revisions WHERE release_name = ?
	`, revision.ReleaseName)
	if err := row.Scan(&maxSeq); err != nil {
		return fmt.Errorf("failed to read max revision seq: %w", err)
	}
	revision.Seq = int(maxSeq.Int64) + 1
	if revision.Number == "" {
		revision.Number = fmt.Sprintf("%05d", revision.Seq)
	}
	if revision.Created.IsZero() {
		revision.Created = time.Now().UTC()
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO revisions (release_name, number, seq, asfuid, description, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`, revision.ReleaseName, revision.Number, revision.Seq, revision.ASFUID,
		revision.Description, revision.Created)
	if err != nil {
		return fmt.Errorf("failed to insert revision: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		UPDATE releases SET latest_revision_number = ? WHERE name = ?
	`, revision.Number, revision.ReleaseName)
	if err != nil {
		return fmt.Errorf("failed to update latest revision: %w", err)
	}
	return nil
}

// GetRevision fetches one revision by release and number.
func (q queries) GetRevision(ctx context.Context, releaseName, number string) (*types.Revision, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT release_name, number, seq, asfuid, description, created
		FROM revisions WHERE release_name = ? AND number = ?
	`, releaseName, number)
	var r types.Revision
	err := row.Scan(&r.ReleaseName, &r.Number, &r.Seq, &r.ASFUID, &r.Description, &r.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan revision: %w", err)
	}
	return &r, nil
}

// LatestRevision returns the revision referenced by the release's latest
// revision pointer, or ErrNotFound when the release has no revisions.
func (q queries) LatestRevision(ctx context.Context, releaseName string) (*types.Revision, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT latest_revision_number FROM releases WHERE name = ?
	`, releaseName)
	var number sql.NullString
	err := row.Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest revision number: %w", err)
	}
	if !number.Valid || number.String == "" {
		return nil, storage.ErrNotFound
	}
	return q.GetRevision(ctx, releaseName, number.String)
}
