package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/domain"
	apperrors "github.com/evalforge/evalforge/api/internal/pkg/errors"
	"github.com/evalforge/evalforge/api/internal/pkg/globalid"
	"github.com/evalforge/evalforge/api/internal/pkg/logger"
	"github.com/evalforge/evalforge/api/internal/pkg/pagination"
	"github.com/evalforge/evalforge/api/internal/tasks"
)

// Transactor runs a function inside one storage transaction. On any
// error every write made by the function is rolled back.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// TaskDispatcher enqueues background tasks
type TaskDispatcher interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ExampleCache caches resolved example content. Keys live in the
// dataset:<id>: namespace so both per-dataset invalidation and the
// cleanup worker can sweep them by pattern.
type ExampleCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelPattern(ctx context.Context, pattern string) (int64, error)
}

const exampleCacheTTL = 10 * time.Minute

// DatasetRepository defines dataset repository operations
type DatasetRepository interface {
	Create(ctx context.Context, dataset *domain.Dataset) error
	GetByID(ctx context.Context, id int64) (*domain.Dataset, error)
	NameExists(ctx context.Context, name string) (bool, error)
	Update(ctx context.Context, dataset *domain.Dataset) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter *domain.DatasetFilter, args pagination.Args) ([]domain.Dataset, error)
	GetExampleCount(ctx context.Context, datasetID int64) (int64, error)
	GetExperimentCount(ctx context.Context, datasetID int64) (int64, error)

	// Version operations
	CreateVersion(ctx context.Context, tx pgx.Tx, version *domain.DatasetVersion) error
	GetVersionByID(ctx context.Context, id int64) (*domain.DatasetVersion, error)
	GetLatestVersion(ctx context.Context, datasetID int64) (*domain.DatasetVersion, error)
	CountVersions(ctx context.Context, datasetID int64) (int64, error)

	// Example identity operations
	CreateExamples(ctx context.Context, tx pgx.Tx, datasetID int64, sourceRecordIDs []*int64) ([]int64, error)
	GetSharedDatasetID(ctx context.Context, exampleIDs []int64) (int64, error)
	GetSourceRecords(ctx context.Context, ids []int64) ([]domain.SourceRecord, error)

	// Split operations
	CreateSplit(ctx context.Context, split *domain.DatasetSplit) error
	ListSplits(ctx context.Context, datasetID int64, args pagination.Args) ([]domain.DatasetSplit, error)
	AddExamplesToSplit(ctx context.Context, splitID int64, exampleIDs []int64) error
	ResolveSplitIDs(ctx context.Context, datasetID int64, byID []int64, byName []string) ([]int64, error)
	GetSplitExampleIDs(ctx context.Context, splitIDs []int64) ([]int64, error)
}

// RevisionLog defines the append-only revision store operations
type RevisionLog interface {
	Append(ctx context.Context, tx pgx.Tx, versionID int64, entries []domain.RevisionEntry) error
	Resolve(ctx context.Context, exampleIDs []int64, asOfVersionID int64) (map[int64]*domain.ResolvedExample, error)
	ResolveDataset(ctx context.Context, datasetID, asOfVersionID int64) ([]*domain.ResolvedExample, error)
	Latest(ctx context.Context, exampleIDs []int64) (map[int64]*domain.ExampleRevision, error)
}

// DatasetService handles dataset mutation batches and reads. Every
// batch that changes example content commits exactly one new
// DatasetVersion plus its revisions in one transaction.
type DatasetService struct {
	db          Transactor
	datasetRepo DatasetRepository
	revisionLog RevisionLog
	dispatcher  TaskDispatcher
	cache       ExampleCache
}

// NewDatasetService creates a new dataset service. A nil cache
// disables resolved-content caching.
func NewDatasetService(
	db Transactor,
	datasetRepo DatasetRepository,
	revisionLog RevisionLog,
	dispatcher TaskDispatcher,
	cache ExampleCache,
) *DatasetService {
	return &DatasetService{
		db:          db,
		datasetRepo: datasetRepo,
		revisionLog: revisionLog,
		dispatcher:  dispatcher,
		cache:       cache,
	}
}

// Create creates a new dataset. No version or revision is involved.
func (s *DatasetService) Create(ctx context.Context, input *domain.DatasetInput) (*domain.Dataset, error) {
	exists, err := s.datasetRepo.NameExists(ctx, input.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check name: %w", err)
	}
	if exists {
		return nil, apperrors.Validation("dataset name already exists")
	}

	now := time.Now()
	dataset := &domain.Dataset{
		Name:        input.Name,
		Description: input.Description,
		Metadata:    input.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.datasetRepo.Create(ctx, dataset); err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}

	return dataset, nil
}

// Get retrieves a dataset by its opaque id
func (s *DatasetService) Get(ctx context.Context, id string) (*domain.Dataset, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	// Load counts
	exampleCount, _ := s.datasetRepo.GetExampleCount(ctx, datasetID)
	experimentCount, _ := s.datasetRepo.GetExperimentCount(ctx, datasetID)
	dataset.ExampleCount = exampleCount
	dataset.ExperimentCount = experimentCount

	return dataset, nil
}

// List retrieves datasets with cursor pagination
func (s *DatasetService) List(ctx context.Context, filter *domain.DatasetFilter, cursor *string, limit *int) (pagination.Page[domain.Dataset], error) {
	args, err := pagination.ParseArgs(cursor, limit, globalid.TagDataset)
	if err != nil {
		return pagination.Page[domain.Dataset]{}, apperrors.Validation(err.Error())
	}

	datasets, err := s.datasetRepo.List(ctx, filter, args)
	if err != nil {
		return pagination.Page[domain.Dataset]{}, err
	}

	return pagination.NewPage(datasets, args.Limit, func(d domain.Dataset) string {
		return globalid.Encode(globalid.TagDataset, d.ID)
	}), nil
}

// Patch applies a partial update to the dataset row itself. The row is
// not versioned; only present fields are applied, and only description
// accepts an explicit null.
func (s *DatasetService) Patch(ctx context.Context, id string, patch *domain.DatasetPatch) (*domain.Dataset, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if patch.IsEmpty() {
		return nil, apperrors.Validation("patch must change at least one field")
	}
	if patch.Name.IsNull() {
		return nil, apperrors.Validation("name cannot be null")
	}
	if patch.Metadata.IsNull() {
		return nil, apperrors.Validation("metadata cannot be null")
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	if name, ok := patch.Name.Value(); ok && name != dataset.Name {
		if name == "" {
			return nil, apperrors.Validation("name cannot be empty")
		}
		exists, err := s.datasetRepo.NameExists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check name: %w", err)
		}
		if exists {
			return nil, apperrors.Validation("dataset name already exists")
		}
		dataset.Name = name
	}

	if patch.Description.IsPresent() {
		if desc, ok := patch.Description.Value(); ok {
			dataset.Description = &desc
		} else {
			dataset.Description = nil
		}
	}
	if metadata, ok := patch.Metadata.Value(); ok {
		dataset.Metadata = metadata
	}

	dataset.UpdatedAt = time.Now()

	if err := s.datasetRepo.Update(ctx, dataset); err != nil {
		return nil, fmt.Errorf("failed to update dataset: %w", err)
	}

	return dataset, nil
}

// AddExamples creates one example identity and one CREATE revision per
// input payload, all under one new version.
func (s *DatasetService) AddExamples(ctx context.Context, id string, inputs []domain.ExampleInput, stamp domain.VersionStamp) (*domain.Dataset, []string, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, nil, apperrors.Validation(err.Error())
	}
	if len(inputs) == 0 {
		return nil, nil, apperrors.Validation("at least one example is required")
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}

	// Optional provenance references must all resolve before anything
	// is written; one bad reference rejects the whole batch.
	sourceIDs := make([]*int64, len(inputs))
	var referenced []int64
	for i, input := range inputs {
		if input.SourceRecordID == nil {
			continue
		}
		key, err := globalid.KeyFor(*input.SourceRecordID, globalid.TagSourceRecord)
		if err != nil {
			return nil, nil, apperrors.Validation(err.Error())
		}
		sourceIDs[i] = &key
		referenced = append(referenced, key)
	}
	if len(referenced) > 0 {
		if _, err := s.datasetRepo.GetSourceRecords(ctx, referenced); err != nil {
			return nil, nil, err
		}
	}

	var exampleIDs []int64
	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		version := s.newVersion(datasetID, stamp)
		if err := s.datasetRepo.CreateVersion(ctx, tx, version); err != nil {
			return err
		}

		ids, err := s.datasetRepo.CreateExamples(ctx, tx, datasetID, sourceIDs)
		if err != nil {
			return err
		}
		exampleIDs = ids

		entries := make([]domain.RevisionEntry, len(inputs))
		for i, input := range inputs {
			entries[i] = domain.RevisionEntry{
				ExampleID: ids[i],
				Kind:      domain.RevisionKindCreate,
				Input:     input.Input,
				Output:    input.Output,
				Metadata:  input.Metadata,
			}
		}
		return s.revisionLog.Append(ctx, tx, version.ID, entries)
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidateExampleCache(ctx, datasetID)

	return dataset, globalIDs(globalid.TagDatasetExample, exampleIDs), nil
}

// AddExamplesFromSource creates one example per referenced source
// record, with content copied from the record, under one new version.
// Any unresolvable reference rejects the whole batch.
func (s *DatasetService) AddExamplesFromSource(ctx context.Context, id string, sourceRecordIDs []string, stamp domain.VersionStamp) (*domain.Dataset, []string, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, nil, apperrors.Validation(err.Error())
	}
	if len(sourceRecordIDs) == 0 {
		return nil, nil, apperrors.Validation("at least one source record is required")
	}

	recordKeys, err := globalid.KeysFor(sourceRecordIDs, globalid.TagSourceRecord)
	if err != nil {
		return nil, nil, apperrors.Validation(err.Error())
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}

	records, err := s.datasetRepo.GetSourceRecords(ctx, recordKeys)
	if err != nil {
		return nil, nil, err
	}

	sourceIDs := make([]*int64, len(records))
	for i := range records {
		sourceIDs[i] = &records[i].ID
	}

	var exampleIDs []int64
	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		version := s.newVersion(datasetID, stamp)
		if err := s.datasetRepo.CreateVersion(ctx, tx, version); err != nil {
			return err
		}

		ids, err := s.datasetRepo.CreateExamples(ctx, tx, datasetID, sourceIDs)
		if err != nil {
			return err
		}
		exampleIDs = ids

		entries := make([]domain.RevisionEntry, len(records))
		for i, record := range records {
			entries[i] = domain.RevisionEntry{
				ExampleID: ids[i],
				Kind:      domain.RevisionKindCreate,
				Input:     record.Input,
				Output:    record.Output,
				Metadata:  record.Metadata,
			}
		}
		return s.revisionLog.Append(ctx, tx, version.ID, entries)
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidateExampleCache(ctx, datasetID)

	return dataset, globalIDs(globalid.TagDatasetExample, exampleIDs), nil
}

// PatchExamples appends one PATCH revision per target, all under one
// new version. Fields the patch omits fall back shallowly to the prior
// revision's equivalent field.
func (s *DatasetService) PatchExamples(ctx context.Context, patches []domain.ExamplePatch, stamp domain.VersionStamp) (*domain.Dataset, error) {
	if len(patches) == 0 {
		return nil, apperrors.Validation("at least one patch is required")
	}

	exampleIDs := make([]int64, len(patches))
	seen := make(map[int64]bool, len(patches))
	for i, patch := range patches {
		if patch.IsEmpty() {
			return nil, apperrors.Validation("patch must change at least one field")
		}
		key, err := globalid.KeyFor(patch.ExampleID, globalid.TagDatasetExample)
		if err != nil {
			return nil, apperrors.Validation(err.Error())
		}
		if seen[key] {
			return nil, apperrors.Conflict("example targeted more than once in one batch")
		}
		seen[key] = true
		exampleIDs[i] = key
	}

	datasetID, err := s.datasetRepo.GetSharedDatasetID(ctx, exampleIDs)
	if err != nil {
		return nil, err
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	// A target whose most recent revision is a DELETE is as missing as
	// one with no revisions at all.
	latest, err := s.revisionLog.Latest(ctx, exampleIDs)
	if err != nil {
		return nil, err
	}
	for _, exampleID := range exampleIDs {
		rev, ok := latest[exampleID]
		if !ok || rev.Kind == domain.RevisionKindDelete {
			return nil, apperrors.NotFound("dataset example")
		}
	}

	entries := make([]domain.RevisionEntry, len(patches))
	for i, patch := range patches {
		prior := latest[exampleIDs[i]]
		entries[i] = domain.RevisionEntry{
			ExampleID: exampleIDs[i],
			Kind:      domain.RevisionKindPatch,
			Input:     mergeField(patch.Input, prior.Input),
			Output:    mergeField(patch.Output, prior.Output),
			Metadata:  mergeField(patch.Metadata, prior.Metadata),
		}
	}

	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		version := s.newVersion(datasetID, stamp)
		if err := s.datasetRepo.CreateVersion(ctx, tx, version); err != nil {
			return err
		}
		return s.revisionLog.Append(ctx, tx, version.ID, entries)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateExampleCache(ctx, datasetID)

	return dataset, nil
}

// DeleteExamples appends one DELETE revision (cleared payload) per
// target, all under one new version.
func (s *DatasetService) DeleteExamples(ctx context.Context, ids []string, stamp domain.VersionStamp) (*domain.Dataset, error) {
	if len(ids) == 0 {
		return nil, apperrors.Validation("at least one example is required")
	}

	exampleIDs, err := globalid.KeysFor(ids, globalid.TagDatasetExample)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	seen := make(map[int64]bool, len(exampleIDs))
	for _, key := range exampleIDs {
		if seen[key] {
			return nil, apperrors.Conflict("example targeted more than once in one batch")
		}
		seen[key] = true
	}

	datasetID, err := s.datasetRepo.GetSharedDatasetID(ctx, exampleIDs)
	if err != nil {
		return nil, err
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	latest, err := s.revisionLog.Latest(ctx, exampleIDs)
	if err != nil {
		return nil, err
	}
	for _, exampleID := range exampleIDs {
		rev, ok := latest[exampleID]
		if !ok {
			return nil, apperrors.NotFound("dataset example")
		}
		if rev.Kind == domain.RevisionKindDelete {
			return nil, apperrors.Conflict("example is already deleted")
		}
	}

	entries := make([]domain.RevisionEntry, len(exampleIDs))
	for i, exampleID := range exampleIDs {
		entries[i] = domain.RevisionEntry{
			ExampleID: exampleID,
			Kind:      domain.RevisionKindDelete,
		}
	}

	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		version := s.newVersion(datasetID, stamp)
		if err := s.datasetRepo.CreateVersion(ctx, tx, version); err != nil {
			return err
		}
		return s.revisionLog.Append(ctx, tx, version.ID, entries)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateExampleCache(ctx, datasetID)

	return dataset, nil
}

// Delete hard-deletes a dataset and dispatches best-effort cleanup of
// dependent external resources. A failed dispatch is logged and
// swallowed; only the deletion itself is guaranteed.
func (s *DatasetService) Delete(ctx context.Context, id string) (*domain.Dataset, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	if err := s.datasetRepo.Delete(ctx, datasetID); err != nil {
		return nil, err
	}

	task, err := tasks.NewDatasetCleanupTask(&tasks.DatasetCleanupPayload{
		DatasetID:   datasetID,
		DatasetName: dataset.Name,
	})
	if err == nil {
		_, err = s.dispatcher.EnqueueContext(ctx, task)
	}
	if err != nil {
		logger.Error("failed to dispatch dataset cleanup",
			zap.Int64("dataset_id", datasetID),
			zap.Error(err),
		)
	}

	return dataset, nil
}

// GetExamples resolves the effective content of every example in a
// dataset as of a version (latest when versionID is nil).
func (s *DatasetService) GetExamples(ctx context.Context, id string, versionID *string) ([]*domain.ResolvedExample, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if _, err := s.datasetRepo.GetByID(ctx, datasetID); err != nil {
		return nil, err
	}

	asOf, err := s.resolveVersionID(ctx, datasetID, versionID)
	if err != nil {
		return nil, err
	}

	cacheKey := exampleCacheKey(datasetID, asOf)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
			if examples, err := decodeCachedExamples(raw); err == nil {
				return examples, nil
			}
		}
	}

	examples, err := s.revisionLog.ResolveDataset(ctx, datasetID, asOf)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := encodeCachedExamples(examples); err == nil {
			if err := s.cache.Set(ctx, cacheKey, raw, exampleCacheTTL); err != nil {
				logger.Warn("failed to cache resolved examples",
					zap.Int64("dataset_id", datasetID),
					zap.Error(err),
				)
			}
		}
	}

	return examples, nil
}

// CreateSplit creates a named example subset within a dataset
func (s *DatasetService) CreateSplit(ctx context.Context, id string, name string, exampleIDs []string) (*domain.DatasetSplit, error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if name == "" {
		return nil, apperrors.Validation("split name is required")
	}

	if _, err := s.datasetRepo.GetByID(ctx, datasetID); err != nil {
		return nil, err
	}

	memberIDs, err := globalid.KeysFor(exampleIDs, globalid.TagDatasetExample)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if len(memberIDs) > 0 {
		sharedID, err := s.datasetRepo.GetSharedDatasetID(ctx, memberIDs)
		if err != nil {
			return nil, err
		}
		if sharedID != datasetID {
			return nil, apperrors.Conflict("examples belong to a different dataset")
		}
	}

	split := &domain.DatasetSplit{
		DatasetID: datasetID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.datasetRepo.CreateSplit(ctx, split); err != nil {
		return nil, err
	}
	if len(memberIDs) > 0 {
		if err := s.datasetRepo.AddExamplesToSplit(ctx, split.ID, memberIDs); err != nil {
			return nil, err
		}
	}

	return split, nil
}

// ListSplits retrieves the splits of a dataset with cursor pagination
func (s *DatasetService) ListSplits(ctx context.Context, id string, cursor *string, limit *int) (pagination.Page[domain.DatasetSplit], error) {
	datasetID, err := globalid.KeyFor(id, globalid.TagDataset)
	if err != nil {
		return pagination.Page[domain.DatasetSplit]{}, apperrors.Validation(err.Error())
	}

	args, err := pagination.ParseArgs(cursor, limit, globalid.TagDatasetSplit)
	if err != nil {
		return pagination.Page[domain.DatasetSplit]{}, apperrors.Validation(err.Error())
	}

	if _, err := s.datasetRepo.GetByID(ctx, datasetID); err != nil {
		return pagination.Page[domain.DatasetSplit]{}, err
	}

	splits, err := s.datasetRepo.ListSplits(ctx, datasetID, args)
	if err != nil {
		return pagination.Page[domain.DatasetSplit]{}, err
	}

	return pagination.NewPage(splits, args.Limit, func(sp domain.DatasetSplit) string {
		return globalid.Encode(globalid.TagDatasetSplit, sp.ID)
	}), nil
}

// newVersion builds the single DatasetVersion row of a mutation batch
func (s *DatasetService) newVersion(datasetID int64, stamp domain.VersionStamp) *domain.DatasetVersion {
	return &domain.DatasetVersion{
		DatasetID:   datasetID,
		Description: stamp.Description,
		Metadata:    stamp.Metadata,
		CreatedAt:   time.Now(),
	}
}

// resolveVersionID canonicalizes an optional version reference: an
// explicit id must exist and belong to the dataset, an omitted one
// means the dataset's latest version.
func (s *DatasetService) resolveVersionID(ctx context.Context, datasetID int64, versionID *string) (int64, error) {
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

// invalidateExampleCache drops every cached resolution of a dataset.
// Best-effort: a failed sweep only means a stale entry lives until its
// TTL, so the error is logged and swallowed.
func (s *DatasetService) invalidateExampleCache(ctx context.Context, datasetID int64) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.DelPattern(ctx, fmt.Sprintf("dataset:%d:examples:*", datasetID)); err != nil {
		logger.Warn("failed to invalidate example cache",
			zap.Int64("dataset_id", datasetID),
			zap.Error(err),
		)
	}
}

func exampleCacheKey(datasetID, versionID int64) string {
	return fmt.Sprintf("dataset:%d:examples:%d", datasetID, versionID)
}

// cachedExample is the cache wire form of a ResolvedExample. The
// domain type hides its storage keys from JSON, so the cache carries
// them explicitly.
type cachedExample struct {
	ExampleID  int64          `json:"exampleId"`
	RevisionID int64          `json:"revisionId"`
	Input      map[string]any `json:"input"`
	Output     map[string]any `json:"output"`
	Metadata   map[string]any `json:"metadata"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func encodeCachedExamples(examples []*domain.ResolvedExample) (string, error) {
	cached := make([]cachedExample, len(examples))
	for i, e := range examples {
		cached[i] = cachedExample{
			ExampleID:  e.ExampleID,
			RevisionID: e.RevisionID,
			Input:      e.Input,
			Output:     e.Output,
			Metadata:   e.Metadata,
			UpdatedAt:  e.UpdatedAt,
		}
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCachedExamples(raw string) ([]*domain.ResolvedExample, error) {
	var cached []cachedExample
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, err
	}
	examples := make([]*domain.ResolvedExample, len(cached))
	for i, c := range cached {
		examples[i] = &domain.ResolvedExample{
			ExampleID:  c.ExampleID,
			RevisionID: c.RevisionID,
			Input:      c.Input,
			Output:     c.Output,
			Metadata:   c.Metadata,
			UpdatedAt:  c.UpdatedAt,
		}
	}
	return examples, nil
}

// mergeField is the shallow-merge rule for one patch field: a present
// value wins, an explicit null clears, an absent field keeps the prior
// revision's value.
func mergeField(opt domain.Optional[map[string]any], prior map[string]any) map[string]any {
	if opt.IsNull() {
		return map[string]any{}
	}
	return opt.Or(prior)
}

// globalIDs encodes a batch of storage keys under one tag
func globalIDs(tag globalid.Tag, keys []int64) []string {
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = globalid.Encode(tag, key)
	}
	return ids
}
