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

// ExperimentRepository handles experiment, run and annotation data
// operations in PostgreSQL
type ExperimentRepository struct {
	db *database.PostgresDB
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *database.PostgresDB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// Create inserts the experiment row inside the caller's transaction.
func (r *ExperimentRepository) Create(ctx context.Context, tx pgx.Tx, experiment *domain.Experiment) error {
	query := `
		INSERT INTO experiments (dataset_id, version_id, name, description, repetitions, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := tx.QueryRow(ctx, query,
		experiment.DatasetID,
		experiment.VersionID,
		experiment.Name,
		experiment.Description,
		experiment.Repetitions,
		emptyIfNil(experiment.Metadata),
		experiment.CreatedAt,
		experiment.UpdatedAt,
	).Scan(&experiment.ID)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	return nil
}

// InsertCrosswalk freezes the experiment's example set inside the
// caller's transaction. The crosswalk is written exactly once, at
// creation; nothing ever mutates it afterwards.
func (r *ExperimentRepository) InsertCrosswalk(ctx context.Context, tx pgx.Tx, experimentID int64, exampleIDs []int64) error {
	query := `
		INSERT INTO experiment_examples (experiment_id, example_id)
		SELECT $1, unnest($2::bigint[])
	`

	if _, err := tx.Exec(ctx, query, experimentID, exampleIDs); err != nil {
		return fmt.Errorf("failed to freeze experiment examples: %w", err)
	}

	return nil
}

// GetByID retrieves an experiment by ID
func (r *ExperimentRepository) GetByID(ctx context.Context, id int64) (*domain.Experiment, error) {
	query := `
		SELECT id, dataset_id, version_id, name, description, repetitions, metadata, created_at, updated_at
		FROM experiments
		WHERE id = $1
	`

	var experiment domain.Experiment
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&experiment.ID,
		&experiment.DatasetID,
		&experiment.VersionID,
		&experiment.Name,
		&experiment.Description,
		&experiment.Repetitions,
		&experiment.Metadata,
		&experiment.CreatedAt,
		&experiment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("experiment")
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	return &experiment, nil
}

// Delete hard-deletes an experiment and, via cascade, its crosswalk,
// runs and annotations.
func (r *ExperimentRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM experiments WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("experiment")
	}

	return nil
}

// List retrieves the experiments of a dataset ordered by id descending
func (r *ExperimentRepository) List(ctx context.Context, datasetID int64, args pagination.Args) ([]domain.Experiment, error) {
	query := `
		SELECT id, dataset_id, version_id, name, description, repetitions, metadata, created_at, updated_at
		FROM experiments
		WHERE dataset_id = $1 AND ($2::bigint = 0 OR id <= $2)
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, datasetID, args.AfterID, args.FetchLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []domain.Experiment
	for rows.Next() {
		var experiment domain.Experiment
		if err := rows.Scan(
			&experiment.ID,
			&experiment.DatasetID,
			&experiment.VersionID,
			&experiment.Name,
			&experiment.Description,
			&experiment.Repetitions,
			&experiment.Metadata,
			&experiment.CreatedAt,
			&experiment.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, experiment)
	}

	return experiments, rows.Err()
}

// GetCounts computes the three aggregates the summary report derives
// from. Missing runs are never enumerated; they fall out of the
// arithmetic on these counts.
func (r *ExperimentRepository) GetCounts(ctx context.Context, experimentID int64) (domain.ExperimentCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM experiment_examples WHERE experiment_id = $1),
			COUNT(*) FILTER (WHERE error IS NULL),
			COUNT(*) FILTER (WHERE error IS NOT NULL)
		FROM experiment_runs
		WHERE experiment_id = $1
	`

	var counts domain.ExperimentCounts
	err := r.db.Pool.QueryRow(ctx, query, experimentID).Scan(
		&counts.ExampleCount,
		&counts.SuccessfulRunCount,
		&counts.FailedRunCount,
	)
	if err != nil {
		return domain.ExperimentCounts{}, fmt.Errorf("failed to count runs: %w", err)
	}

	return counts, nil
}

// GetCrosswalkExampleIDs returns the frozen example set of an experiment
func (r *ExperimentRepository) GetCrosswalkExampleIDs(ctx context.Context, experimentID int64) ([]int64, error) {
	query := `
		SELECT example_id FROM experiment_examples
		WHERE experiment_id = $1
		ORDER BY example_id
	`

	rows, err := r.db.Pool.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment examples: %w", err)
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

// InCrosswalk checks whether an example belongs to the experiment's
// frozen example set.
func (r *ExperimentRepository) InCrosswalk(ctx context.Context, experimentID, exampleID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM experiment_examples
			WHERE experiment_id = $1 AND example_id = $2
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, experimentID, exampleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check experiment example: %w", err)
	}

	return exists, nil
}

// GetRunForKey retrieves the run recorded for one
// (experiment, example, repetition) key, or nil when none exists.
func (r *ExperimentRepository) GetRunForKey(ctx context.Context, experimentID, exampleID int64, repetitionNumber int) (*domain.ExperimentRun, error) {
	query := `
		SELECT id, experiment_id, example_id, repetition_number, output, error, start_time, end_time, trace_ref, created_at
		FROM experiment_runs
		WHERE experiment_id = $1 AND example_id = $2 AND repetition_number = $3
	`

	var run domain.ExperimentRun
	err := r.db.Pool.QueryRow(ctx, query, experimentID, exampleID, repetitionNumber).Scan(
		&run.ID,
		&run.ExperimentID,
		&run.ExampleID,
		&run.RepetitionNumber,
		&run.Output,
		&run.Error,
		&run.StartTime,
		&run.EndTime,
		&run.TraceRef,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// UpsertRun inserts the run or, when the key already holds a row,
// overwrites it in place. The service layer decides beforehand whether
// the existing row may be replaced; the check and this write are not
// one atomic step, so two racing recorders for the same key can both
// pass the check and the later write wins.
func (r *ExperimentRepository) UpsertRun(ctx context.Context, run *domain.ExperimentRun) error {
	query := `
		INSERT INTO experiment_runs (experiment_id, example_id, repetition_number, output, error, start_time, end_time, trace_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (experiment_id, example_id, repetition_number)
		DO UPDATE SET
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			trace_ref = EXCLUDED.trace_ref
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		run.ExperimentID,
		run.ExampleID,
		run.RepetitionNumber,
		emptyIfNil(run.Output),
		run.Error,
		run.StartTime,
		run.EndTime,
		run.TraceRef,
		run.CreatedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	return nil
}

// GetRunByID retrieves a run by ID
func (r *ExperimentRepository) GetRunByID(ctx context.Context, id int64) (*domain.ExperimentRun, error) {
	query := `
		SELECT id, experiment_id, example_id, repetition_number, output, error, start_time, end_time, trace_ref, created_at
		FROM experiment_runs
		WHERE id = $1
	`

	var run domain.ExperimentRun
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.ExperimentID,
		&run.ExampleID,
		&run.RepetitionNumber,
		&run.Output,
		&run.Error,
		&run.StartTime,
		&run.EndTime,
		&run.TraceRef,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("experiment run")
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves an experiment's runs ordered by id descending
func (r *ExperimentRepository) ListRuns(ctx context.Context, experimentID int64, args pagination.Args) ([]domain.ExperimentRun, error) {
	query := `
		SELECT id, experiment_id, example_id, repetition_number, output, error, start_time, end_time, trace_ref, created_at
		FROM experiment_runs
		WHERE experiment_id = $1 AND ($2::bigint = 0 OR id <= $2)
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, experimentID, args.AfterID, args.FetchLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListAllRuns retrieves every run of an experiment in commit order.
// Used by the exporter, which streams the full history.
func (r *ExperimentRepository) ListAllRuns(ctx context.Context, experimentID int64) ([]domain.ExperimentRun, error) {
	query := `
		SELECT id, experiment_id, example_id, repetition_number, output, error, start_time, end_time, trace_ref, created_at
		FROM experiment_runs
		WHERE experiment_id = $1
		ORDER BY id
	`

	rows, err := r.db.Pool.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// CreateAnnotation records an evaluator verdict for a run. A repeated
// (run, name) key surfaces as a unique violation for the service layer
// to translate.
func (r *ExperimentRepository) CreateAnnotation(ctx context.Context, annotation *domain.RunAnnotation) error {
	query := `
		INSERT INTO experiment_run_annotations (run_id, name, label, score, metadata, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		annotation.RunID,
		annotation.Name,
		annotation.Label,
		annotation.Score,
		emptyIfNil(annotation.Metadata),
		annotation.Error,
		annotation.CreatedAt,
	).Scan(&annotation.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("annotation already recorded for this run and evaluator")
		}
		return fmt.Errorf("failed to create annotation: %w", err)
	}

	return nil
}

// ListAnnotationsForRuns loads all annotations of the given runs,
// grouped by run id.
func (r *ExperimentRepository) ListAnnotationsForRuns(ctx context.Context, runIDs []int64) (map[int64][]domain.RunAnnotation, error) {
	if len(runIDs) == 0 {
		return map[int64][]domain.RunAnnotation{}, nil
	}

	query := `
		SELECT id, run_id, name, label, score, metadata, error, created_at
		FROM experiment_run_annotations
		WHERE run_id = ANY($1)
		ORDER BY run_id, id
	`

	rows, err := r.db.Pool.Query(ctx, query, runIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	annotations := make(map[int64][]domain.RunAnnotation)
	for rows.Next() {
		var a domain.RunAnnotation
		if err := rows.Scan(
			&a.ID,
			&a.RunID,
			&a.Name,
			&a.Label,
			&a.Score,
			&a.Metadata,
			&a.Error,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations[a.RunID] = append(annotations[a.RunID], a)
	}

	return annotations, rows.Err()
}

// IncompleteRuns finds crosswalk examples that still lack a successful
// run for at least one repetition. One aggregate query over the
// crosswalk joined to successful runs; the repetition-number complement
// is computed by the caller. Paginated by example id descending.
func (r *ExperimentRepository) IncompleteRuns(ctx context.Context, experimentID int64, repetitions int, args pagination.Args) ([]domain.RunCompletionRow, error) {
	query := `
		SELECT
			ee.example_id,
			COALESCE(
				array_agg(r.repetition_number ORDER BY r.repetition_number)
					FILTER (WHERE r.id IS NOT NULL),
				'{}'
			)::bigint[]
		FROM experiment_examples ee
		LEFT JOIN experiment_runs r
			ON r.experiment_id = ee.experiment_id
			AND r.example_id = ee.example_id
			AND r.error IS NULL
		WHERE ee.experiment_id = $1
		  AND ($2::bigint = 0 OR ee.example_id <= $2)
		GROUP BY ee.example_id
		HAVING COUNT(r.id) < $3
		ORDER BY ee.example_id DESC
		LIMIT $4
	`

	rows, err := r.db.Pool.Query(ctx, query, experimentID, args.AfterID, repetitions, args.FetchLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to find incomplete runs: %w", err)
	}
	defer rows.Close()

	var results []domain.RunCompletionRow
	for rows.Next() {
		var row domain.RunCompletionRow
		if err := rows.Scan(&row.ExampleID, &row.SuccessfulReps); err != nil {
			return nil, fmt.Errorf("failed to scan incomplete run row: %w", err)
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// IncompleteEvaluations finds successful runs that still lack a
// non-errored annotation from at least one of the required evaluators.
// Errored runs are excluded: they need re-running, not re-evaluating.
// Paginated by run id descending.
func (r *ExperimentRepository) IncompleteEvaluations(ctx context.Context, experimentID int64, evaluatorNames []string, args pagination.Args) ([]domain.EvaluationCompletionRow, error) {
	query := `
		SELECT
			r.id, r.experiment_id, r.example_id, r.repetition_number,
			r.output, r.error, r.start_time, r.end_time, r.trace_ref, r.created_at,
			COALESCE(
				array_agg(DISTINCT a.name) FILTER (WHERE a.id IS NOT NULL),
				'{}'
			)
		FROM experiment_runs r
		LEFT JOIN experiment_run_annotations a
			ON a.run_id = r.id
			AND a.name = ANY($2)
			AND a.error IS NULL
		WHERE r.experiment_id = $1
		  AND r.error IS NULL
		  AND ($3::bigint = 0 OR r.id <= $3)
		GROUP BY r.id
		HAVING COUNT(DISTINCT a.name) < $4
		ORDER BY r.id DESC
		LIMIT $5
	`

	rows, err := r.db.Pool.Query(ctx, query,
		experimentID, evaluatorNames, args.AfterID, len(evaluatorNames), args.FetchLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to find incomplete evaluations: %w", err)
	}
	defer rows.Close()

	var results []domain.EvaluationCompletionRow
	for rows.Next() {
		var row domain.EvaluationCompletionRow
		if err := rows.Scan(
			&row.Run.ID,
			&row.Run.ExperimentID,
			&row.Run.ExampleID,
			&row.Run.RepetitionNumber,
			&row.Run.Output,
			&row.Run.Error,
			&row.Run.StartTime,
			&row.Run.EndTime,
			&row.Run.TraceRef,
			&row.Run.CreatedAt,
			&row.SucceededNames,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incomplete evaluation row: %w", err)
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

func scanRuns(rows pgx.Rows) ([]domain.ExperimentRun, error) {
	var runs []domain.ExperimentRun
	for rows.Next() {
		var run domain.ExperimentRun
		if err := rows.Scan(
			&run.ID,
			&run.ExperimentID,
			&run.ExampleID,
			&run.RepetitionNumber,
			&run.Output,
			&run.Error,
			&run.StartTime,
			&run.EndTime,
			&run.TraceRef,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
