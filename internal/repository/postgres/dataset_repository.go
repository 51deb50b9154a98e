package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/pkg/database"
	apperrors "github.com/evalforge/evalforge/api/internal/pkg/errors"
	"github.com/evalforge/evalforge/api/internal/pkg/pagination"
)

// DatasetRepository handles dataset, example, version and split data
// operations in PostgreSQL
type DatasetRepository struct {
	db *database.PostgresDB
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *database.PostgresDB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// Create creates a new dataset
func (r *DatasetRepository) Create(ctx context.Context, dataset *domain.Dataset) error {
	query := `
		INSERT INTO datasets (name, description, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		dataset.Name,
		dataset.Description,
		emptyIfNil(dataset.Metadata),
		dataset.CreatedAt,
		dataset.UpdatedAt,
	).Scan(&dataset.ID)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	return nil
}

// GetByID retrieves a dataset by ID
func (r *DatasetRepository) GetByID(ctx context.Context, id int64) (*domain.Dataset, error) {
	query := `
		SELECT id, name, description, metadata, created_at, updated_at
		FROM datasets
		WHERE id = $1
	`

	var dataset domain.Dataset
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&dataset.ID,
		&dataset.Name,
		&dataset.Description,
		&dataset.Metadata,
		&dataset.CreatedAt,
		&dataset.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dataset")
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return &dataset, nil
}

// NameExists checks if a dataset name already exists
func (r *DatasetRepository) NameExists(ctx context.Context, name string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM datasets WHERE name = $1)`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check name: %w", err)
	}

	return exists, nil
}

// Update applies an in-place update of the dataset row itself. The row
// is not versioned; only example content is.
func (r *DatasetRepository) Update(ctx context.Context, dataset *domain.Dataset) error {
	query := `
		UPDATE datasets
		SET name = $2, description = $3, metadata = $4, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		dataset.ID,
		dataset.Name,
		dataset.Description,
		emptyIfNil(dataset.Metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dataset")
	}

	return nil
}

// Delete hard-deletes a dataset; examples, versions, revisions, splits
// and experiments go with it via storage-level cascade.
func (r *DatasetRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM datasets WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dataset")
	}

	return nil
}

// List retrieves datasets ordered by id descending
func (r *DatasetRepository) List(ctx context.Context, filter *domain.DatasetFilter, args pagination.Args) ([]domain.Dataset, error) {
	query := `
		SELECT id, name, description, metadata, created_at, updated_at
		FROM datasets
		WHERE ($1::bigint = 0 OR id <= $1)
		  AND ($2::text IS NULL OR name ILIKE '%' || $2 || '%')
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, args.AfterID, filter.Name, args.FetchLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []domain.Dataset
	for rows.Next() {
		var dataset domain.Dataset
		if err := rows.Scan(
			&dataset.ID,
			&dataset.Name,
			&dataset.Description,
			&dataset.Metadata,
			&dataset.CreatedAt,
			&dataset.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, dataset)
	}

	return datasets, rows.Err()
}

// GetExampleCount returns the number of example identities in a dataset
func (r *DatasetRepository) GetExampleCount(ctx context.Context, datasetID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM dataset_examples WHERE dataset_id = $1`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, datasetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count examples: %w", err)
	}

	return count, nil
}

// GetExperimentCount returns the number of experiments for a dataset
func (r *DatasetRepository) GetExperimentCount(ctx context.Context, datasetID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM experiments WHERE dataset_id = $1`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, datasetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count experiments: %w", err)
	}

	return count, nil
}

// CreateVersion inserts the single DatasetVersion row of a mutation
// batch, inside the caller's transaction.
func (r *DatasetRepository) CreateVersion(ctx context.Context, tx pgx.Tx, version *domain.DatasetVersion) error {
	query := `
		INSERT INTO dataset_versions (dataset_id, description, metadata, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := tx.QueryRow(ctx, query,
		version.DatasetID,
		version.Description,
		emptyIfNil(version.Metadata),
		version.CreatedAt,
	).Scan(&version.ID)
	if err != nil {
		return fmt.Errorf("failed to create dataset version: %w", err)
	}

	return nil
}

// GetVersionByID retrieves a dataset version by ID
func (r *DatasetRepository) GetVersionByID(ctx context.Context, id int64) (*domain.DatasetVersion, error) {
	query := `
		SELECT id, dataset_id, description, metadata, created_at
		FROM dataset_versions
		WHERE id = $1
	`

	var version domain.DatasetVersion
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&version.ID,
		&version.DatasetID,
		&version.Description,
		&version.Metadata,
		&version.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dataset version")
		}
		return nil, fmt.Errorf("failed to get dataset version: %w", err)
	}

	return &version, nil
}

// GetLatestVersion retrieves the most recent version of a dataset.
// Returns NotFound when the dataset has no versions at all.
func (r *DatasetRepository) GetLatestVersion(ctx context.Context, datasetID int64) (*domain.DatasetVersion, error) {
	query := `
		SELECT id, dataset_id, description, metadata, created_at
		FROM dataset_versions
		WHERE dataset_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var version domain.DatasetVersion
	err := r.db.Pool.QueryRow(ctx, query, datasetID).Scan(
		&version.ID,
		&version.DatasetID,
		&version.Description,
		&version.Metadata,
		&version.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dataset version")
		}
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}

	return &version, nil
}

// CountVersions returns the number of versions a dataset has
func (r *DatasetRepository) CountVersions(ctx context.Context, datasetID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM dataset_versions WHERE dataset_id = $1`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, datasetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}

	return count, nil
}

// CreateExamples inserts new example identities for a dataset inside
// the caller's transaction and returns their ids in insertion order.
// sourceRecordIDs carries per-example provenance; nil entries mean the
// example was created from a raw payload.
func (r *DatasetRepository) CreateExamples(ctx context.Context, tx pgx.Tx, datasetID int64, sourceRecordIDs []*int64) ([]int64, error) {
	query := `
		INSERT INTO dataset_examples (dataset_id, source_record_id)
		SELECT $1, unnest($2::bigint[])
		RETURNING id
	`

	rows, err := tx.Query(ctx, query, datasetID, sourceRecordIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create examples: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, len(sourceRecordIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan example id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetSharedDatasetID verifies that every referenced example exists and
// that all of them belong to one dataset, returning that dataset's id.
// A missing example is NotFound; examples spanning datasets is Conflict.
func (r *DatasetRepository) GetSharedDatasetID(ctx context.Context, exampleIDs []int64) (int64, error) {
	query := `SELECT id, dataset_id FROM dataset_examples WHERE id = ANY($1)`

	rows, err := r.db.Pool.Query(ctx, query, exampleIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load examples: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]int64, len(exampleIDs))
	var datasetID int64
	for rows.Next() {
		var id, dsID int64
		if err := rows.Scan(&id, &dsID); err != nil {
			return 0, fmt.Errorf("failed to scan example: %w", err)
		}
		if datasetID == 0 {
			datasetID = dsID
		} else if datasetID != dsID {
			return 0, apperrors.Conflict("examples span more than one dataset")
		}
		found[id] = dsID
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range exampleIDs {
		if _, ok := found[id]; !ok {
			return 0, apperrors.NotFound("dataset example")
		}
	}

	return datasetID, nil
}

// GetSourceRecords loads source records by id, preserving input order.
// Any missing record fails the whole lookup with NotFound, so callers
// can reject a derivation batch atomically.
func (r *DatasetRepository) GetSourceRecords(ctx context.Context, ids []int64) ([]domain.SourceRecord, error) {
	query := `
		SELECT id, input, output, metadata, created_at
		FROM source_records
		WHERE id = ANY($1)
	`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load source records: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]domain.SourceRecord, len(ids))
	for rows.Next() {
		var rec domain.SourceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Input,
			&rec.Output,
			&rec.Metadata,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source record: %w", err)
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]domain.SourceRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return nil, apperrors.NotFound("source record")
		}
		records = append(records, rec)
	}

	return records, nil
}

// CreateSplit creates a named example subset within a dataset
func (r *DatasetRepository) CreateSplit(ctx context.Context, split *domain.DatasetSplit) error {
	query := `
		INSERT INTO dataset_splits (dataset_id, name, metadata, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		split.DatasetID,
		split.Name,
		emptyIfNil(split.Metadata),
		split.CreatedAt,
	).Scan(&split.ID)
	if err != nil {
		return fmt.Errorf("failed to create split: %w", err)
	}

	return nil
}

// ListSplits retrieves the splits of a dataset ordered by id descending
func (r *DatasetRepository) ListSplits(ctx context.Context, datasetID int64, args pagination.Args) ([]domain.DatasetSplit, error) {
	query := `
		SELECT id, dataset_id, name, metadata, created_at
		FROM dataset_splits
		WHERE dataset_id = $1 AND ($2::bigint = 0 OR id <= $2)
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, datasetID, args.AfterID, args.FetchLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	defer rows.Close()

	var splits []domain.DatasetSplit
	for rows.Next() {
		var split domain.DatasetSplit
		if err := rows.Scan(
			&split.ID,
			&split.DatasetID,
			&split.Name,
			&split.Metadata,
			&split.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		splits = append(splits, split)
	}

	return splits, rows.Err()
}

// AddExamplesToSplit records split membership for the given examples
func (r *DatasetRepository) AddExamplesToSplit(ctx context.Context, splitID int64, exampleIDs []int64) error {
	query := `
		INSERT INTO dataset_split_examples (split_id, example_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`

	if _, err := r.db.Pool.Exec(ctx, query, splitID, exampleIDs); err != nil {
		return fmt.Errorf("failed to add examples to split: %w", err)
	}

	return nil
}

// ResolveSplitIDs canonicalizes split selectors (by id or by name)
// into split ids within one dataset. Any unresolvable selector fails
// the whole batch with NotFound.
func (r *DatasetRepository) ResolveSplitIDs(ctx context.Context, datasetID int64, byID []int64, byName []string) ([]int64, error) {
	query := `
		SELECT id, name FROM dataset_splits
		WHERE dataset_id = $1 AND (id = ANY($2) OR name = ANY($3))
	`

	rows, err := r.db.Pool.Query(ctx, query, datasetID, byID, byName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve splits: %w", err)
	}
	defer rows.Close()

	var ids []int64
	matchedIDs := make(map[int64]bool)
	matchedNames := make(map[string]bool)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		ids = append(ids, id)
		matchedIDs[id] = true
		matchedNames[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check each selector individually. A row count comparison would
	// come up short when one split is selected both by id and by name.
	for _, id := range byID {
		if !matchedIDs[id] {
			return nil, apperrors.NotFound("dataset split")
		}
	}
	for _, name := range byName {
		if !matchedNames[name] {
			return nil, apperrors.NotFound("dataset split")
		}
	}

	return ids, nil
}

// GetSplitExampleIDs returns the union of example ids belonging to the
// given splits.
func (r *DatasetRepository) GetSplitExampleIDs(ctx context.Context, splitIDs []int64) ([]int64, error) {
	query := `
		SELECT DISTINCT example_id
		FROM dataset_split_examples
		WHERE split_id = ANY($1)
		ORDER BY example_id
	`

	rows, err := r.db.Pool.Query(ctx, query, splitIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load split examples: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan example id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
