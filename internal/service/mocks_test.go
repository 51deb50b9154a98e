package service

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/pkg/pagination"
)

// MockTransactor is a mock implementation of Transactor. A successful
// call runs the function with a nil transaction so the flow under test
// executes; repository mocks accept the nil tx.
type MockTransactor struct {
	mock.Mock
}

func (m *MockTransactor) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

// MockTaskDispatcher is a mock implementation of TaskDispatcher
type MockTaskDispatcher struct {
	mock.Mock
}

func (m *MockTaskDispatcher) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// MockExampleCache is a mock implementation of ExampleCache
type MockExampleCache struct {
	mock.Mock
}

func (m *MockExampleCache) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockExampleCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockExampleCache) DelPattern(ctx context.Context, pattern string) (int64, error) {
	args := m.Called(ctx, pattern)
	return args.Get(0).(int64), args.Error(1)
}

// MockDatasetRepository is a mock implementation of DatasetRepository
type MockDatasetRepository struct {
	mock.Mock
}

func (m *MockDatasetRepository) Create(ctx context.Context, dataset *domain.Dataset) error {
	args := m.Called(ctx, dataset)
	return args.Error(0)
}

func (m *MockDatasetRepository) GetByID(ctx context.Context, id int64) (*domain.Dataset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetRepository) NameExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatasetRepository) Update(ctx context.Context, dataset *domain.Dataset) error {
	args := m.Called(ctx, dataset)
	return args.Error(0)
}

func (m *MockDatasetRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatasetRepository) List(ctx context.Context, filter *domain.DatasetFilter, pageArgs pagination.Args) ([]domain.Dataset, error) {
	args := m.Called(ctx, filter, pageArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Dataset), args.Error(1)
}

func (m *MockDatasetRepository) GetExampleCount(ctx context.Context, datasetID int64) (int64, error) {
	args := m.Called(ctx, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDatasetRepository) GetExperimentCount(ctx context.Context, datasetID int64) (int64, error) {
	args := m.Called(ctx, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDatasetRepository) CreateVersion(ctx context.Context, tx pgx.Tx, version *domain.DatasetVersion) error {
	args := m.Called(ctx, tx, version)
	return args.Error(0)
}

func (m *MockDatasetRepository) GetVersionByID(ctx context.Context, id int64) (*domain.DatasetVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DatasetVersion), args.Error(1)
}

func (m *MockDatasetRepository) GetLatestVersion(ctx context.Context, datasetID int64) (*domain.DatasetVersion, error) {
	args := m.Called(ctx, datasetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DatasetVersion), args.Error(1)
}

func (m *MockDatasetRepository) CountVersions(ctx context.Context, datasetID int64) (int64, error) {
	args := m.Called(ctx, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDatasetRepository) CreateExamples(ctx context.Context, tx pgx.Tx, datasetID int64, sourceRecordIDs []*int64) ([]int64, error) {
	args := m.Called(ctx, tx, datasetID, sourceRecordIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockDatasetRepository) GetSharedDatasetID(ctx context.Context, exampleIDs []int64) (int64, error) {
	args := m.Called(ctx, exampleIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDatasetRepository) GetSourceRecords(ctx context.Context, ids []int64) ([]domain.SourceRecord, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SourceRecord), args.Error(1)
}

func (m *MockDatasetRepository) CreateSplit(ctx context.Context, split *domain.DatasetSplit) error {
	args := m.Called(ctx, split)
	return args.Error(0)
}

func (m *MockDatasetRepository) ListSplits(ctx context.Context, datasetID int64, pageArgs pagination.Args) ([]domain.DatasetSplit, error) {
	args := m.Called(ctx, datasetID, pageArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DatasetSplit), args.Error(1)
}

func (m *MockDatasetRepository) AddExamplesToSplit(ctx context.Context, splitID int64, exampleIDs []int64) error {
	args := m.Called(ctx, splitID, exampleIDs)
	return args.Error(0)
}

func (m *MockDatasetRepository) ResolveSplitIDs(ctx context.Context, datasetID int64, byID []int64, byName []string) ([]int64, error) {
	args := m.Called(ctx, datasetID, byID, byName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockDatasetRepository) GetSplitExampleIDs(ctx context.Context, splitIDs []int64) ([]int64, error) {
	args := m.Called(ctx, splitIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// MockRevisionLog is a mock implementation of RevisionLog
type MockRevisionLog struct {
	mock.Mock
}

func (m *MockRevisionLog) Append(ctx context.Context, tx pgx.Tx, versionID int64, entries []domain.RevisionEntry) error {
	args := m.Called(ctx, tx, versionID, entries)
	return args.Error(0)
}

func (m *MockRevisionLog) Resolve(ctx context.Context, exampleIDs []int64, asOfVersionID int64) (map[int64]*domain.ResolvedExample, error) {
	args := m.Called(ctx, exampleIDs, asOfVersionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*domain.ResolvedExample), args.Error(1)
}

func (m *MockRevisionLog) ResolveDataset(ctx context.Context, datasetID, asOfVersionID int64) ([]*domain.ResolvedExample, error) {
	args := m.Called(ctx, datasetID, asOfVersionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ResolvedExample), args.Error(1)
}

func (m *MockRevisionLog) Latest(ctx context.Context, exampleIDs []int64) (map[int64]*domain.ExampleRevision, error) {
	args := m.Called(ctx, exampleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*domain.ExampleRevision), args.Error(1)
}

// MockExperimentRepository is a mock implementation of ExperimentRepository
type MockExperimentRepository struct {
	mock.Mock
}

func (m *MockExperimentRepository) Create(ctx context.Context, tx pgx.Tx, experiment *domain.Experiment) error {
	args := m.Called(ctx, tx, experiment)
	return args.Error(0)
}

func (m *MockExperimentRepository) InsertCrosswalk(ctx context.Context, tx pgx.Tx, experimentID int64, exampleIDs []int64) error {
	args := m.Called(ctx, tx, experimentID, exampleIDs)
	return args.Error(0)
}

func (m *MockExperimentRepository) GetByID(ctx context.Context, id int64) (*domain.Experiment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Experiment), args.Error(1)
}

func (m *MockExperimentRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockExperimentRepository) List(ctx context.Context, datasetID int64, pageArgs pagination.Args) ([]domain.Experiment, error) {
	args := m.Called(ctx, datasetID, pageArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Experiment), args.Error(1)
}

func (m *MockExperimentRepository) GetCounts(ctx context.Context, experimentID int64) (domain.ExperimentCounts, error) {
	args := m.Called(ctx, experimentID)
	return args.Get(0).(domain.ExperimentCounts), args.Error(1)
}

func (m *MockExperimentRepository) GetCrosswalkExampleIDs(ctx context.Context, experimentID int64) ([]int64, error) {
	args := m.Called(ctx, experimentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockExperimentRepository) InCrosswalk(ctx context.Context, experimentID, exampleID int64) (bool, error) {
	args := m.Called(ctx, experimentID, exampleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockExperimentRepository) GetRunForKey(ctx context.Context, experimentID, exampleID int64, repetitionNumber int) (*domain.ExperimentRun, error) {
	args := m.Called(ctx, experimentID, exampleID, repetitionNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExperimentRun), args.Error(1)
}

func (m *MockExperimentRepository) UpsertRun(ctx context.Context, run *domain.ExperimentRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockExperimentRepository) GetRunByID(ctx context.Context, id int64) (*domain.ExperimentRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExperimentRun), args.Error(1)
}

func (m *MockExperimentRepository) ListRuns(ctx context.Context, experimentID int64, pageArgs pagination.Args) ([]domain.ExperimentRun, error) {
	args := m.Called(ctx, experimentID, pageArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ExperimentRun), args.Error(1)
}

func (m *MockExperimentRepository) ListAllRuns(ctx context.Context, experimentID int64) ([]domain.ExperimentRun, error) {
	args := m.Called(ctx, experimentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ExperimentRun), args.Error(1)
}

func (m *MockExperimentRepository) CreateAnnotation(ctx context.Context, annotation *domain.RunAnnotation) error {
	args := m.Called(ctx, annotation)
	return args.Error(0)
}

func (m *MockExperimentRepository) ListAnnotationsForRuns(ctx context.Context, runIDs []int64) (map[int64][]domain.RunAnnotation, error) {
	args := m.Called(ctx, runIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64][]domain.RunAnnotation), args.Error(1)
}

func (m *MockExperimentRepository) IncompleteRuns(ctx context.Context, experimentID int64, repetitions int, pageArgs pagination.Args) ([]domain.RunCompletionRow, error) {
	args := m.Called(ctx, experimentID, repetitions, pageArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RunCompletionRow), args.Error(1)
}

func (m *MockExperimentRepository) IncompleteEvaluations(ctx context.Context, experimentID int64, evaluatorNames []string, pageArgs pagination.Args) ([]domain.EvaluationCompletionRow, error) {
	args := m.Called(ctx, experimentID, evaluatorNames, pageArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.EvaluationCompletionRow), args.Error(1)
}
