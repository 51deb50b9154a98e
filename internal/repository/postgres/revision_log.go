package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/pkg/database"
)

// RevisionLog is the append-only store of example content snapshots.
//
// The type deliberately exposes no update or delete operations:
// corrections are made by appending a new revision. Revision ids come
// from a single BIGSERIAL sequence, so id order matches commit order;
// the resolver's "max id <= target version" selection relies on that.
type RevisionLog struct {
	db *database.PostgresDB
}

// NewRevisionLog creates a new revision log
func NewRevisionLog(db *database.PostgresDB) *RevisionLog {
	return &RevisionLog{db: db}
}

// Append appends one batch of revisions stamped with the given version,
// inside the caller's transaction. It never creates versions itself.
func (l *RevisionLog) Append(ctx context.Context, tx pgx.Tx, versionID int64, entries []domain.RevisionEntry) error {
	query := `
		INSERT INTO dataset_example_revisions (example_id, version_id, input, output, metadata, kind)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			e.ExampleID,
			versionID,
			emptyIfNil(e.Input),
			emptyIfNil(e.Output),
			emptyIfNil(e.Metadata),
			e.Kind,
		)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to append revision: %w", err)
		}
	}

	return nil
}

// Resolve computes the effective content of the given examples as of a
// version: per example, the revision with the greatest id among
// revisions whose version <= asOfVersionID. Examples whose selected
// revision is a DELETE, and examples with no qualifying revision, are
// absent from the result. One bulk query per batch, never per example.
func (l *RevisionLog) Resolve(ctx context.Context, exampleIDs []int64, asOfVersionID int64) (map[int64]*domain.ResolvedExample, error) {
	if len(exampleIDs) == 0 {
		return map[int64]*domain.ResolvedExample{}, nil
	}

	query := `
		SELECT DISTINCT ON (example_id)
			example_id, id, input, output, metadata, kind, created_at
		FROM dataset_example_revisions
		WHERE example_id = ANY($1) AND version_id <= $2
		ORDER BY example_id, id DESC
	`

	rows, err := l.db.Pool.Query(ctx, query, exampleIDs, asOfVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revisions: %w", err)
	}
	defer rows.Close()

	return collectResolved(rows)
}

// ResolveDataset computes the effective content of every example of a
// dataset as of a version, ordered by example id. Used by the snapshot
// builder at experiment creation.
func (l *RevisionLog) ResolveDataset(ctx context.Context, datasetID, asOfVersionID int64) ([]*domain.ResolvedExample, error) {
	query := `
		SELECT DISTINCT ON (r.example_id)
			r.example_id, r.id, r.input, r.output, r.metadata, r.kind, r.created_at
		FROM dataset_example_revisions r
		JOIN dataset_examples e ON e.id = r.example_id
		WHERE e.dataset_id = $1 AND r.version_id <= $2
		ORDER BY r.example_id, r.id DESC
	`

	rows, err := l.db.Pool.Query(ctx, query, datasetID, asOfVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset revisions: %w", err)
	}
	defer rows.Close()

	var resolved []*domain.ResolvedExample
	for rows.Next() {
		r, kind, err := scanRevisionRow(rows)
		if err != nil {
			return nil, err
		}
		if kind == domain.RevisionKindDelete {
			continue
		}
		resolved = append(resolved, r)
	}

	return resolved, rows.Err()
}

// Latest returns, per example, the most recent revision of any kind
// (including DELETE). Used by the mutation engine to validate patch
// and delete targets against current state.
func (l *RevisionLog) Latest(ctx context.Context, exampleIDs []int64) (map[int64]*domain.ExampleRevision, error) {
	if len(exampleIDs) == 0 {
		return map[int64]*domain.ExampleRevision{}, nil
	}

	query := `
		SELECT DISTINCT ON (example_id)
			id, example_id, version_id, input, output, metadata, kind, created_at
		FROM dataset_example_revisions
		WHERE example_id = ANY($1)
		ORDER BY example_id, id DESC
	`

	rows, err := l.db.Pool.Query(ctx, query, exampleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest revisions: %w", err)
	}
	defer rows.Close()

	latest := make(map[int64]*domain.ExampleRevision, len(exampleIDs))
	for rows.Next() {
		var rev domain.ExampleRevision
		if err := rows.Scan(
			&rev.ID,
			&rev.ExampleID,
			&rev.VersionID,
			&rev.Input,
			&rev.Output,
			&rev.Metadata,
			&rev.Kind,
			&rev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		latest[rev.ExampleID] = &rev
	}

	return latest, rows.Err()
}

// collectResolved folds resolver rows into the example map, dropping
// DELETE-kind rows.
func collectResolved(rows pgx.Rows) (map[int64]*domain.ResolvedExample, error) {
	resolved := make(map[int64]*domain.ResolvedExample)
	for rows.Next() {
		r, kind, err := scanRevisionRow(rows)
		if err != nil {
			return nil, err
		}
		if kind == domain.RevisionKindDelete {
			continue
		}
		resolved[r.ExampleID] = r
	}
	return resolved, rows.Err()
}

func scanRevisionRow(rows pgx.Rows) (*domain.ResolvedExample, domain.RevisionKind, error) {
	var r domain.ResolvedExample
	var kind domain.RevisionKind
	if err := rows.Scan(
		&r.ExampleID,
		&r.RevisionID,
		&r.Input,
		&r.Output,
		&r.Metadata,
		&kind,
		&r.UpdatedAt,
	); err != nil {
		return nil, "", fmt.Errorf("failed to scan resolved revision: %w", err)
	}
	return &r, kind, nil
}

// emptyIfNil keeps payload columns NOT NULL: a DELETE revision stores
// cleared (empty) payloads, never carried-forward content.
func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
