package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evalforge/evalforge/api/internal/domain"
	apperrors "github.com/evalforge/evalforge/api/internal/pkg/errors"
	"github.com/evalforge/evalforge/api/internal/pkg/globalid"
	"github.com/evalforge/evalforge/api/internal/pkg/pagination"
)

// ExperimentRepository defines experiment repository operations
type ExperimentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, experiment *domain.Experiment) error
	InsertCrosswalk(ctx context.Context, tx pgx.Tx, experimentID int64, exampleIDs []int64) error
	GetByID(ctx context.Context, id int64) (*domain.Experiment, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, datasetID int64, args pagination.Args) ([]domain.Experiment, error)
	GetCounts(ctx context.Context, experimentID int64) (domain.ExperimentCounts, error)
	GetCrosswalkExampleIDs(ctx context.Context, experimentID int64) ([]int64, error)
	InCrosswalk(ctx context.Context, experimentID, exampleID int64) (bool, error)

	// Run operations
	GetRunForKey(ctx context.Context, experimentID, exampleID int64, repetitionNumber int) (*domain.ExperimentRun, error)
	UpsertRun(ctx context.Context, run *domain.ExperimentRun) error
	GetRunByID(ctx context.Context, id int64) (*domain.ExperimentRun, error)
	ListRuns(ctx context.Context, experimentID int64, args pagination.Args) ([]domain.ExperimentRun, error)
	ListAllRuns(ctx context.Context, experimentID int64) ([]domain.ExperimentRun, error)

	// Annotation operations
	CreateAnnotation(ctx context.Context, annotation *domain.RunAnnotation) error
	ListAnnotationsForRuns(ctx context.Context, runIDs []int64) (map[int64][]domain.RunAnnotation, error)

	// Completion reports
	IncompleteRuns(ctx context.Context, experimentID int64, repetitions int, args pagination.Args) ([]domain.RunCompletionRow, error)
	IncompleteEvaluations(ctx context.Context, experimentID int64, evaluatorNames []string, args pagination.Args) ([]domain.EvaluationCompletionRow, error)
}

// ExperimentService handles experiment snapshots, the run ledger and
// completion reports.
type ExperimentService struct {
	db             Transactor
	experimentRepo ExperimentRepository
	datasetRepo    DatasetRepository
	revisionLog    RevisionLog
}

// NewExperimentService creates a new experiment service
func NewExperimentService(
	db Transactor,
	experimentRepo ExperimentRepository,
	datasetRepo DatasetRepository,
	revisionLog RevisionLog,
) *ExperimentService {
	return &ExperimentService{
		db:             db,
		experimentRepo: experimentRepo,
		datasetRepo:    datasetRepo,
		revisionLog:    revisionLog,
	}
}

// Create builds an experiment snapshot: resolve the target version
// (latest when omitted), resolve split filters, and freeze the
// resulting example-id set into the crosswalk. Later dataset edits
// never change the experiment's scope.
func (s *ExperimentService) Create(ctx context.Context, datasetID string, input *domain.ExperimentInput) (*domain.Experiment, error) {
	dsID, err := globalid.KeyFor(datasetID, globalid.TagDataset)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if input.Repetitions <= 0 {
		return nil, apperrors.Validation("repetitions must be positive")
	}

	if _, err := s.datasetRepo.GetByID(ctx, dsID); err != nil {
		return nil, err
	}

	versionID, err := s.resolveVersionID(ctx, dsID, input.VersionID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.revisionLog.ResolveDataset(ctx, dsID, versionID)
	if err != nil {
		return nil, err
	}
	exampleIDs := make([]int64, len(resolved))
	for i, r := range resolved {
		exampleIDs[i] = r.ExampleID
	}

	if len(input.Splits) > 0 {
		exampleIDs, err = s.intersectSplits(ctx, dsID, input.Splits, exampleIDs)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	experiment := &domain.Experiment{
		DatasetID:   dsID,
		VersionID:   versionID,
		Name:        input.Name,
		Description: input.Description,
		Repetitions: input.Repetitions,
		Metadata:    input.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.experimentRepo.Create(ctx, tx, experiment); err != nil {
			return err
		}
		if len(exampleIDs) == 0 {
			return nil
		}
		return s.experimentRepo.InsertCrosswalk(ctx, tx, experiment.ID, exampleIDs)
	})
	if err != nil {
		return nil, err
	}

	experiment.ExampleCount = int64(len(exampleIDs))
	experiment.MissingRunCount = experiment.ExampleCount * int64(experiment.Repetitions)
	return experiment, nil
}

// Get retrieves an experiment with its derived counts
func (s *ExperimentService) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	experimentID, err := globalid.KeyFor(id, globalid.TagExperiment)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	experiment, err := s.experimentRepo.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if err := s.loadCounts(ctx, experiment); err != nil {
		return nil, err
	}

	return experiment, nil
}

// List retrieves the experiments of a dataset, each with derived counts
func (s *ExperimentService) List(ctx context.Context, datasetID string, cursor *string, limit *int) (pagination.Page[domain.Experiment], error) {
	dsID, err := globalid.KeyFor(datasetID, globalid.TagDataset)
	if err != nil {
		return pagination.Page[domain.Experiment]{}, apperrors.Validation(err.Error())
	}
	args, err := pagination.ParseArgs(cursor, limit, globalid.TagExperiment)
	if err != nil {
		return pagination.Page[domain.Experiment]{}, apperrors.Validation(err.Error())
	}

	if _, err := s.datasetRepo.GetByID(ctx, dsID); err != nil {
		return pagination.Page[domain.Experiment]{}, err
	}

	experiments, err := s.experimentRepo.List(ctx, dsID, args)
	if err != nil {
		return pagination.Page[domain.Experiment]{}, err
	}

	page := pagination.NewPage(experiments, args.Limit, func(e domain.Experiment) string {
		return globalid.Encode(globalid.TagExperiment, e.ID)
	})
	for i := range page.Items {
		if err := s.loadCounts(ctx, &page.Items[i]); err != nil {
			return pagination.Page[domain.Experiment]{}, err
		}
	}

	return page, nil
}

// Delete hard-deletes an experiment and its runs
func (s *ExperimentService) Delete(ctx context.Context, id string) error {
	experimentID, err := globalid.KeyFor(id, globalid.TagExperiment)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	return s.experimentRepo.Delete(ctx, experimentID)
}

// UpsertRun records one execution attempt. A successful run is
// immutable for its key; only an errored run may be overwritten. The
// existence check and the write are separate statements, so two racing
// recorders for one key can both pass the check and the later write
// wins (see UpsertRun on the repository).
func (s *ExperimentService) UpsertRun(ctx context.Context, experimentID string, input *domain.RunUpsertInput) (string, error) {
	expID, err := globalid.KeyFor(experimentID, globalid.TagExperiment)
	if err != nil {
		return "", apperrors.Validation(err.Error())
	}
	exampleID, err := globalid.KeyFor(input.ExampleID, globalid.TagDatasetExample)
	if err != nil {
		return "", apperrors.Validation(err.Error())
	}

	experiment, err := s.experimentRepo.GetByID(ctx, expID)
	if err != nil {
		return "", err
	}
	if input.RepetitionNumber < 1 || input.RepetitionNumber > experiment.Repetitions {
		return "", apperrors.Validation(fmt.Sprintf(
			"repetition number must be in [1, %d]", experiment.Repetitions))
	}

	in, err := s.experimentRepo.InCrosswalk(ctx, expID, exampleID)
	if err != nil {
		return "", err
	}
	if !in {
		return "", apperrors.NotFound("dataset example")
	}

	existing, err := s.experimentRepo.GetRunForKey(ctx, expID, exampleID, input.RepetitionNumber)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Succeeded() {
		return "", apperrors.Conflict("a successful run already exists for this repetition")
	}

	run := &domain.ExperimentRun{
		ExperimentID:     expID,
		ExampleID:        exampleID,
		RepetitionNumber: input.RepetitionNumber,
		Output:           input.Output,
		Error:            input.Error,
		StartTime:        input.StartTime,
		EndTime:          input.EndTime,
		TraceRef:         input.TraceRef,
		CreatedAt:        time.Now(),
	}
	if err := s.experimentRepo.UpsertRun(ctx, run); err != nil {
		return "", err
	}

	return globalid.Encode(globalid.TagExperimentRun, run.ID), nil
}

// ListRuns retrieves an experiment's runs with cursor pagination
func (s *ExperimentService) ListRuns(ctx context.Context, experimentID string, cursor *string, limit *int) (pagination.Page[domain.ExperimentRun], error) {
	expID, err := globalid.KeyFor(experimentID, globalid.TagExperiment)
	if err != nil {
		return pagination.Page[domain.ExperimentRun]{}, apperrors.Validation(err.Error())
	}
	args, err := pagination.ParseArgs(cursor, limit, globalid.TagExperimentRun)
	if err != nil {
		return pagination.Page[domain.ExperimentRun]{}, apperrors.Validation(err.Error())
	}

	if _, err := s.experimentRepo.GetByID(ctx, expID); err != nil {
		return pagination.Page[domain.ExperimentRun]{}, err
	}

	runs, err := s.experimentRepo.ListRuns(ctx, expID, args)
	if err != nil {
		return pagination.Page[domain.ExperimentRun]{}, err
	}

	return pagination.NewPage(runs, args.Limit, func(r domain.ExperimentRun) string {
		return globalid.Encode(globalid.TagExperimentRun, r.ID)
	}), nil
}

// Annotate records an evaluator's verdict on a run
func (s *ExperimentService) Annotate(ctx context.Context, input *domain.AnnotationInput) (*domain.RunAnnotation, error) {
	runID, err := globalid.KeyFor(input.RunID, globalid.TagExperimentRun)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.Validation("evaluator name is required")
	}
	if strings.ContainsRune(name, 0) {
		return nil, apperrors.Validation("evaluator name contains a null byte")
	}

	if _, err := s.experimentRepo.GetRunByID(ctx, runID); err != nil {
		return nil, err
	}

	annotation := &domain.RunAnnotation{
		RunID:     runID,
		Name:      name,
		Label:     input.Label,
		Score:     input.Score,
		Metadata:  input.Metadata,
		Error:     input.Error,
		CreatedAt: time.Now(),
	}
	if err := s.experimentRepo.CreateAnnotation(ctx, annotation); err != nil {
		return nil, err
	}

	return annotation, nil
}

// IncompleteRuns reports, per crosswalk example, the repetition numbers
// that still lack a successful run, paired with the example content
// resolved as of the experiment's pinned version.
func (s *ExperimentService) IncompleteRuns(ctx context.Context, experimentID string, cursor *string, limit *int) (pagination.Page[domain.IncompleteRun], error) {
	expID, err := globalid.KeyFor(experimentID, globalid.TagExperiment)
	if err != nil {
		return pagination.Page[domain.IncompleteRun]{}, apperrors.Validation(err.Error())
	}
	args, err := pagination.ParseArgs(cursor, limit, globalid.TagDatasetExample)
	if err != nil {
		return pagination.Page[domain.IncompleteRun]{}, apperrors.Validation(err.Error())
	}

	experiment, err := s.experimentRepo.GetByID(ctx, expID)
	if err != nil {
		return pagination.Page[domain.IncompleteRun]{}, err
	}

	rows, err := s.experimentRepo.IncompleteRuns(ctx, expID, experiment.Repetitions, args)
	if err != nil {
		return pagination.Page[domain.IncompleteRun]{}, err
	}

	rowPage := pagination.NewPage(rows, args.Limit, func(r domain.RunCompletionRow) string {
		return globalid.Encode(globalid.TagDatasetExample, r.ExampleID)
	})

	exampleIDs := make([]int64, len(rowPage.Items))
	for i, row := range rowPage.Items {
		exampleIDs[i] = row.ExampleID
	}
	resolved, err := s.revisionLog.Resolve(ctx, exampleIDs, experiment.VersionID)
	if err != nil {
		return pagination.Page[domain.IncompleteRun]{}, err
	}

	items := make([]domain.IncompleteRun, len(rowPage.Items))
	for i, row := range rowPage.Items {
		items[i] = domain.IncompleteRun{
			ExampleID:          row.ExampleID,
			MissingRepetitions: missingRepetitions(row.SuccessfulReps, experiment.Repetitions),
			Example:            resolved[row.ExampleID],
		}
	}

	return pagination.Page[domain.IncompleteRun]{
		Items:      items,
		NextCursor: rowPage.NextCursor,
	}, nil
}

// IncompleteEvaluations reports, per successful run, the required
// evaluator names that still lack a non-errored annotation.
func (s *ExperimentService) IncompleteEvaluations(ctx context.Context, experimentID string, evaluatorNames []string, cursor *string, limit *int) (pagination.Page[domain.IncompleteEvaluation], error) {
	expID, err := globalid.KeyFor(experimentID, globalid.TagExperiment)
	if err != nil {
		return pagination.Page[domain.IncompleteEvaluation]{}, apperrors.Validation(err.Error())
	}
	args, err := pagination.ParseArgs(cursor, limit, globalid.TagExperimentRun)
	if err != nil {
		return pagination.Page[domain.IncompleteEvaluation]{}, apperrors.Validation(err.Error())
	}

	required, err := normalizeEvaluatorNames(evaluatorNames)
	if err != nil {
		return pagination.Page[domain.IncompleteEvaluation]{}, err
	}

	experiment, err := s.experimentRepo.GetByID(ctx, expID)
	if err != nil {
		return pagination.Page[domain.IncompleteEvaluation]{}, err
	}

	rows, err := s.experimentRepo.IncompleteEvaluations(ctx, expID, required, args)
	if err != nil {
		return pagination.Page[domain.IncompleteEvaluation]{}, err
	}

	rowPage := pagination.NewPage(rows, args.Limit, func(r domain.EvaluationCompletionRow) string {
		return globalid.Encode(globalid.TagExperimentRun, r.Run.ID)
	})

	exampleIDs := make([]int64, len(rowPage.Items))
	for i, row := range rowPage.Items {
		exampleIDs[i] = row.Run.ExampleID
	}
	resolved, err := s.revisionLog.Resolve(ctx, exampleIDs, experiment.VersionID)
	if err != nil {
		return pagination.Page[domain.IncompleteEvaluation]{}, err
	}

	items := make([]domain.IncompleteEvaluation, len(rowPage.Items))
	for i := range rowPage.Items {
		row := rowPage.Items[i]
		items[i] = domain.IncompleteEvaluation{
			Run:                   &rowPage.Items[i].Run,
			Example:               resolved[row.Run.ExampleID],
			MissingEvaluatorNames: missingNames(required, row.SucceededNames),
		}
	}

	return pagination.Page[domain.IncompleteEvaluation]{
		Items:      items,
		NextCursor: rowPage.NextCursor,
	}, nil
}

// BuildExportRecords flattens the full run history of an experiment
// into one denormalized record per run, annotation fields keyed by
// evaluator name.
func (s *ExperimentService) BuildExportRecords(ctx context.Context, experimentID string) ([]domain.RunExportRecord, error) {
	expID, err := globalid.KeyFor(experimentID, globalid.TagExperiment)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	experiment, err := s.experimentRepo.GetByID(ctx, expID)
	if err != nil {
		return nil, err
	}

	runs, err := s.experimentRepo.ListAllRuns(ctx, expID)
	if err != nil {
		return nil, err
	}

	runIDs := make([]int64, len(runs))
	exampleIDs := make([]int64, len(runs))
	for i, run := range runs {
		runIDs[i] = run.ID
		exampleIDs[i] = run.ExampleID
	}

	annotations, err := s.experimentRepo.ListAnnotationsForRuns(ctx, runIDs)
	if err != nil {
		return nil, err
	}
	resolved, err := s.revisionLog.Resolve(ctx, exampleIDs, experiment.VersionID)
	if err != nil {
		return nil, err
	}

	records := make([]domain.RunExportRecord, len(runs))
	for i, run := range runs {
		record := domain.RunExportRecord{
			RunID:            globalid.Encode(globalid.TagExperimentRun, run.ID),
			ExampleID:        globalid.Encode(globalid.TagDatasetExample, run.ExampleID),
			RepetitionNumber: run.RepetitionNumber,
			Output:           run.Output,
			Error:            run.Error,
			StartTime:        run.StartTime,
			EndTime:          run.EndTime,
			TraceRef:         run.TraceRef,
		}
		if example := resolved[run.ExampleID]; example != nil {
			record.Input = example.Input
			record.ExpectedOutput = example.Output
		}
		if anns := annotations[run.ID]; len(anns) > 0 {
			record.AnnotationScores = make(map[string]*float64, len(anns))
			record.AnnotationLabels = make(map[string]*string, len(anns))
			record.AnnotationErrors = make(map[string]*string, len(anns))
			for _, ann := range anns {
				record.AnnotationScores[ann.Name] = ann.Score
				record.AnnotationLabels[ann.Name] = ann.Label
				record.AnnotationErrors[ann.Name] = ann.Error
			}
		}
		records[i] = record
	}

	return records, nil
}

// loadCounts populates the derived counts of an experiment
func (s *ExperimentService) loadCounts(ctx context.Context, experiment *domain.Experiment) error {
	counts, err := s.experimentRepo.GetCounts(ctx, experiment.ID)
	if err != nil {
		return err
	}
	experiment.ExampleCount = counts.ExampleCount
	experiment.SuccessfulRunCount = counts.SuccessfulRunCount
	experiment.FailedRunCount = counts.FailedRunCount
	experiment.MissingRunCount = counts.MissingRunCount(experiment.Repetitions)
	return nil
}

// resolveVersionID canonicalizes an optional version reference against
// a dataset (explicit id, or latest when omitted).
func (s *ExperimentService) resolveVersionID(ctx context.Context, datasetID int64, versionID *string) (int64, error) {
	if versionID == nil {
		latest, err := s.datasetRepo.GetLatestVersion(ctx, datasetID)
		if err != nil {
			return 0, err
		}
		return latest.ID, nil
	}

	key, err := globalid.KeyFor(*versionID, globalid.TagDatasetVersion)
	if err != nil {
		return 0, apperrors.Validation(err.Error())
	}
	version, err := s.datasetRepo.GetVersionByID(ctx, key)
	if err != nil {
		return 0, err
	}
	if version.DatasetID != datasetID {
		return 0, apperrors.NotFound("dataset version")
	}
	return version.ID, nil
}

// intersectSplits narrows the snapshot example set to the union of the
// selected splits' members.
func (s *ExperimentService) intersectSplits(ctx context.Context, datasetID int64, selectors []domain.SplitSelector, exampleIDs []int64) ([]int64, error) {
	var byID []int64
	var byName []string
	for _, sel := range selectors {
		switch {
		case sel.ID != nil:
			key, err := globalid.KeyFor(*sel.ID, globalid.TagDatasetSplit)
			if err != nil {
				return nil, apperrors.Validation(err.Error())
			}
			byID = append(byID, key)
		case sel.Name != nil:
			byName = append(byName, *sel.Name)
		default:
			return nil, apperrors.Validation("split selector must carry an id or a name")
		}
	}

	splitIDs, err := s.datasetRepo.ResolveSplitIDs(ctx, datasetID, byID, byName)
	if err != nil {
		return nil, err
	}
	members, err := s.datasetRepo.GetSplitExampleIDs(ctx, splitIDs)
	if err != nil {
		return nil, err
	}

	member := make(map[int64]bool, len(members))
	for _, id := range members {
		member[id] = true
	}
	var intersection []int64
	for _, id := range exampleIDs {
		if member[id] {
			intersection = append(intersection, id)
		}
	}
	return intersection, nil
}

// missingRepetitions computes the sorted complement of the successful
// repetition numbers within [1, repetitions]. The all-missing fast path
// skips set construction entirely.
func missingRepetitions(successful []int64, repetitions int) []int {
	if len(successful) == 0 {
		missing := make([]int, repetitions)
		for i := range missing {
			missing[i] = i + 1
		}
		return missing
	}

	have := make(map[int]bool, len(successful))
	for _, rep := range successful {
		have[int(rep)] = true
	}
	missing := make([]int, 0, repetitions-len(successful))
	for rep := 1; rep <= repetitions; rep++ {
		if !have[rep] {
			missing = append(missing, rep)
		}
	}
	return missing
}

// missingNames computes the sorted set difference required - succeeded
func missingNames(required, succeeded []string) []string {
	have := make(map[string]bool, len(succeeded))
	for _, name := range succeeded {
		have[name] = true
	}
	missing := make([]string, 0, len(required))
	for _, name := range required {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// normalizeEvaluatorNames trims and deduplicates the required evaluator
// names, rejecting an effectively empty list or embedded null bytes.
func normalizeEvaluatorNames(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if strings.ContainsRune(trimmed, 0) {
			return nil, apperrors.BadRequest("evaluator name contains a null byte")
		}
		if seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil, apperrors.BadRequest("at least one evaluator name is required")
	}
	return normalized, nil
}
