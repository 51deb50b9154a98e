package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/evalforge/api/internal/domain"
	apperrors "github.com/evalforge/evalforge/api/internal/pkg/errors"
	"github.com/evalforge/evalforge/api/internal/pkg/globalid"
)

func newDatasetService() (*DatasetService, *MockTransactor, *MockDatasetRepository, *MockRevisionLog, *MockTaskDispatcher) {
	db := new(MockTransactor)
	datasetRepo := new(MockDatasetRepository)
	revisionLog := new(MockRevisionLog)
	dispatcher := new(MockTaskDispatcher)
	return NewDatasetService(db, datasetRepo, revisionLog, dispatcher, nil), db, datasetRepo, revisionLog, dispatcher
}

func newDatasetServiceWithCache() (*DatasetService, *MockTransactor, *MockDatasetRepository, *MockRevisionLog, *MockExampleCache) {
	db := new(MockTransactor)
	datasetRepo := new(MockDatasetRepository)
	revisionLog := new(MockRevisionLog)
	dispatcher := new(MockTaskDispatcher)
	cache := new(MockExampleCache)
	return NewDatasetService(db, datasetRepo, revisionLog, dispatcher, cache), db, datasetRepo, revisionLog, cache
}

func strPtr(s string) *string { return &s }

func TestDatasetService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates dataset successfully", func(t *testing.T) {
		svc, _, datasetRepo, _, _ := newDatasetService()
		datasetRepo.On("NameExists", ctx, "capitals").Return(false, nil)
		datasetRepo.On("Create", ctx, mock.AnythingOfType("*domain.Dataset")).
			Run(func(args mock.Arguments) {
				args.Get(1).(*domain.Dataset).ID = 7
			}).Return(nil)

		dataset, err := svc.Create(ctx, &domain.DatasetInput{Name: "capitals"})

		require.NoError(t, err)
		assert.Equal(t, int64(7), dataset.ID)
		assert.Equal(t, "capitals", dataset.Name)
		datasetRepo.AssertExpectations(t)
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		svc, _, datasetRepo, _, _ := newDatasetService()
		datasetRepo.On("NameExists", ctx, "capitals").Return(true, nil)

		_, err := svc.Create(ctx, &domain.DatasetInput{Name: "capitals"})

		assert.True(t, apperrors.IsValidation(err))
		datasetRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestDatasetService_Patch(t *testing.T) {
	ctx := context.Background()
	datasetID := globalid.Encode(globalid.TagDataset, 7)

	t.Run("rejects empty patch", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()

		_, err := svc.Patch(ctx, datasetID, &domain.DatasetPatch{})

		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects null name", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()

		_, err := svc.Patch(ctx, datasetID, &domain.DatasetPatch{Name: domain.Null[string]()})

		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects rename to existing name", func(t *testing.T) {
		svc, _, datasetRepo, _, _ := newDatasetService()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "old"}, nil)
		datasetRepo.On("NameExists", ctx, "taken").Return(true, nil)

		_, err := svc.Patch(ctx, datasetID, &domain.DatasetPatch{Name: domain.Some("taken")})

		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("explicit null clears description", func(t *testing.T) {
		svc, _, datasetRepo, _, _ := newDatasetService()
		datasetRepo.On("GetByID", ctx, int64(7)).
			Return(&domain.Dataset{ID: 7, Name: "capitals", Description: strPtr("old")}, nil)
		datasetRepo.On("Update", ctx, mock.AnythingOfType("*domain.Dataset")).Return(nil)

		dataset, err := svc.Patch(ctx, datasetID, &domain.DatasetPatch{Description: domain.Null[string]()})

		require.NoError(t, err)
		assert.Nil(t, dataset.Description)
		datasetRepo.AssertExpectations(t)
	})
}

func TestDatasetService_AddExamples(t *testing.T) {
	ctx := context.Background()
	datasetID := globalid.Encode(globalid.TagDataset, 7)

	t.Run("commits one version with CREATE revisions", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		db.On("InTx", ctx, mock.Anything).Return(nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("CreateVersion", ctx, nil, mock.AnythingOfType("*domain.DatasetVersion")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*domain.DatasetVersion).ID = 42
			}).Return(nil)
		datasetRepo.On("CreateExamples", ctx, nil, int64(7), mock.Anything).
			Return([]int64{100, 101}, nil)
		revisionLog.On("Append", ctx, nil, int64(42), mock.MatchedBy(func(entries []domain.RevisionEntry) bool {
			return len(entries) == 2 &&
				entries[0].ExampleID == 100 && entries[0].Kind == domain.RevisionKindCreate &&
				entries[1].ExampleID == 101 && entries[1].Kind == domain.RevisionKindCreate
		})).Return(nil)

		inputs := []domain.ExampleInput{
			{Input: map[string]any{"q": "France"}, Output: map[string]any{"a": "Paris"}},
			{Input: map[string]any{"q": "Japan"}, Output: map[string]any{"a": "Tokyo"}},
		}
		_, exampleIDs, err := svc.AddExamples(ctx, datasetID, inputs, domain.VersionStamp{})

		require.NoError(t, err)
		assert.Equal(t, []string{
			globalid.Encode(globalid.TagDatasetExample, 100),
			globalid.Encode(globalid.TagDatasetExample, 101),
		}, exampleIDs)
		db.AssertExpectations(t)
		revisionLog.AssertExpectations(t)
	})

	t.Run("rejects empty batch before any write", func(t *testing.T) {
		svc, db, _, _, _ := newDatasetService()

		_, _, err := svc.AddExamples(ctx, datasetID, nil, domain.VersionStamp{})

		assert.True(t, apperrors.IsValidation(err))
		db.AssertNotCalled(t, "InTx", mock.Anything, mock.Anything)
	})

	t.Run("unresolvable provenance reference rejects the batch", func(t *testing.T) {
		svc, db, datasetRepo, _, _ := newDatasetService()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("GetSourceRecords", ctx, []int64{99}).
			Return(nil, apperrors.NotFound("source record"))

		inputs := []domain.ExampleInput{{
			Input:          map[string]any{"q": "France"},
			SourceRecordID: strPtr(globalid.Encode(globalid.TagSourceRecord, 99)),
		}}
		_, _, err := svc.AddExamples(ctx, datasetID, inputs, domain.VersionStamp{})

		assert.True(t, apperrors.IsNotFound(err))
		db.AssertNotCalled(t, "InTx", mock.Anything, mock.Anything)
	})
}

func TestDatasetService_AddExamplesFromSource(t *testing.T) {
	ctx := context.Background()
	datasetID := globalid.Encode(globalid.TagDataset, 7)

	t.Run("copies content from source records", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		db.On("InTx", ctx, mock.Anything).Return(nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("GetSourceRecords", ctx, []int64{5}).Return([]domain.SourceRecord{
			{ID: 5, Input: map[string]any{"q": "Italy"}, Output: map[string]any{"a": "Rome"}},
		}, nil)
		datasetRepo.On("CreateVersion", ctx, nil, mock.AnythingOfType("*domain.DatasetVersion")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*domain.DatasetVersion).ID = 43
			}).Return(nil)
		datasetRepo.On("CreateExamples", ctx, nil, int64(7), mock.MatchedBy(func(ids []*int64) bool {
			return len(ids) == 1 && ids[0] != nil && *ids[0] == 5
		})).Return([]int64{200}, nil)
		revisionLog.On("Append", ctx, nil, int64(43), mock.MatchedBy(func(entries []domain.RevisionEntry) bool {
			return len(entries) == 1 &&
				entries[0].Kind == domain.RevisionKindCreate &&
				entries[0].Input["q"] == "Italy" &&
				entries[0].Output["a"] == "Rome"
		})).Return(nil)

		_, exampleIDs, err := svc.AddExamplesFromSource(ctx, datasetID,
			[]string{globalid.Encode(globalid.TagSourceRecord, 5)}, domain.VersionStamp{})

		require.NoError(t, err)
		assert.Len(t, exampleIDs, 1)
		revisionLog.AssertExpectations(t)
	})
}

func TestDatasetService_PatchExamples(t *testing.T) {
	ctx := context.Background()
	exampleID := globalid.Encode(globalid.TagDatasetExample, 100)

	priorRevision := func() map[int64]*domain.ExampleRevision {
		return map[int64]*domain.ExampleRevision{
			100: {
				ID:        1,
				ExampleID: 100,
				Kind:      domain.RevisionKindCreate,
				Input:     map[string]any{"q": "France"},
				Output:    map[string]any{"a": "Paris"},
				Metadata:  map[string]any{"difficulty": "easy"},
			},
		}
	}

	t.Run("omitted fields fall back to the prior revision", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		db.On("InTx", ctx, mock.Anything).Return(nil)
		datasetRepo.On("GetSharedDatasetID", ctx, []int64{100}).Return(int64(7), nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("CreateVersion", ctx, nil, mock.AnythingOfType("*domain.DatasetVersion")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*domain.DatasetVersion).ID = 44
			}).Return(nil)
		revisionLog.On("Latest", ctx, []int64{100}).Return(priorRevision(), nil)
		revisionLog.On("Append", ctx, nil, int64(44), mock.MatchedBy(func(entries []domain.RevisionEntry) bool {
			e := entries[0]
			return e.Kind == domain.RevisionKindPatch &&
				e.Input["q"] == "Germany" && // present value wins
				e.Output["a"] == "Paris" && // absent keeps prior
				len(e.Metadata) == 0 // explicit null clears
		})).Return(nil)

		patches := []domain.ExamplePatch{{
			ExampleID: exampleID,
			Input:     domain.Some(map[string]any{"q": "Germany"}),
			Metadata:  domain.Null[map[string]any](),
		}}
		_, err := svc.PatchExamples(ctx, patches, domain.VersionStamp{})

		require.NoError(t, err)
		revisionLog.AssertExpectations(t)
	})

	t.Run("rejects empty patch", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()

		_, err := svc.PatchExamples(ctx, []domain.ExamplePatch{{ExampleID: exampleID}}, domain.VersionStamp{})

		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects duplicate target in one batch", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()

		patches := []domain.ExamplePatch{
			{ExampleID: exampleID, Input: domain.Some(map[string]any{"q": "a"})},
			{ExampleID: exampleID, Input: domain.Some(map[string]any{"q": "b"})},
		}
		_, err := svc.PatchExamples(ctx, patches, domain.VersionStamp{})

		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("deleted target fails the whole batch", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		datasetRepo.On("GetSharedDatasetID", ctx, []int64{100}).Return(int64(7), nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		revisionLog.On("Latest", ctx, []int64{100}).Return(map[int64]*domain.ExampleRevision{
			100: {ExampleID: 100, Kind: domain.RevisionKindDelete},
		}, nil)

		patches := []domain.ExamplePatch{{
			ExampleID: exampleID,
			Input:     domain.Some(map[string]any{"q": "Germany"}),
		}}
		_, err := svc.PatchExamples(ctx, patches, domain.VersionStamp{})

		assert.True(t, apperrors.IsNotFound(err))
		db.AssertNotCalled(t, "InTx", mock.Anything, mock.Anything)
	})
}

func TestDatasetService_DeleteExamples(t *testing.T) {
	ctx := context.Background()
	exampleID := globalid.Encode(globalid.TagDatasetExample, 100)

	t.Run("appends DELETE revisions with cleared payloads", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		db.On("InTx", ctx, mock.Anything).Return(nil)
		datasetRepo.On("GetSharedDatasetID", ctx, []int64{100}).Return(int64(7), nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("CreateVersion", ctx, nil, mock.AnythingOfType("*domain.DatasetVersion")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*domain.DatasetVersion).ID = 45
			}).Return(nil)
		revisionLog.On("Latest", ctx, []int64{100}).Return(map[int64]*domain.ExampleRevision{
			100: {ExampleID: 100, Kind: domain.RevisionKindCreate, Input: map[string]any{"q": "France"}},
		}, nil)
		revisionLog.On("Append", ctx, nil, int64(45), mock.MatchedBy(func(entries []domain.RevisionEntry) bool {
			e := entries[0]
			return e.Kind == domain.RevisionKindDelete && e.Input == nil && e.Output == nil
		})).Return(nil)

		_, err := svc.DeleteExamples(ctx, []string{exampleID}, domain.VersionStamp{})

		require.NoError(t, err)
		revisionLog.AssertExpectations(t)
	})

	t.Run("re-deleting an already deleted example conflicts", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		datasetRepo.On("GetSharedDatasetID", ctx, []int64{100}).Return(int64(7), nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		revisionLog.On("Latest", ctx, []int64{100}).Return(map[int64]*domain.ExampleRevision{
			100: {ExampleID: 100, Kind: domain.RevisionKindDelete},
		}, nil)

		_, err := svc.DeleteExamples(ctx, []string{exampleID}, domain.VersionStamp{})

		assert.True(t, apperrors.IsConflict(err))
		db.AssertNotCalled(t, "InTx", mock.Anything, mock.Anything)
	})

	t.Run("unknown example fails the whole batch", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, _ := newDatasetService()
		datasetRepo.On("GetSharedDatasetID", ctx, []int64{100}).Return(int64(7), nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		revisionLog.On("Latest", ctx, []int64{100}).
			Return(map[int64]*domain.ExampleRevision{}, nil)

		_, err := svc.DeleteExamples(ctx, []string{exampleID}, domain.VersionStamp{})

		assert.True(t, apperrors.IsNotFound(err))
		db.AssertNotCalled(t, "InTx", mock.Anything, mock.Anything)
	})
}

func TestDatasetService_Delete(t *testing.T) {
	ctx := context.Background()
	datasetID := globalid.Encode(globalid.TagDataset, 7)

	t.Run("failed cleanup dispatch is swallowed", func(t *testing.T) {
		svc, _, datasetRepo, _, dispatcher := newDatasetService()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("Delete", ctx, int64(7)).Return(nil)
		dispatcher.On("EnqueueContext", ctx, mock.Anything).
			Return(nil, errors.New("redis unavailable"))

		dataset, err := svc.Delete(ctx, datasetID)

		require.NoError(t, err)
		assert.Equal(t, "capitals", dataset.Name)
		dispatcher.AssertExpectations(t)
	})
}

func TestDatasetService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects malformed cursor", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()

		_, err := svc.List(ctx, nil, strPtr("not-a-cursor"), nil)

		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects non-positive limit", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()
		limit := 0

		_, err := svc.List(ctx, nil, nil, &limit)

		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("cursor of wrong entity kind is rejected", func(t *testing.T) {
		svc, _, _, _, _ := newDatasetService()
		wrong := globalid.Encode(globalid.TagExperiment, 3)

		_, err := svc.List(ctx, nil, &wrong, nil)

		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestDatasetService_GetExamples(t *testing.T) {
	ctx := context.Background()
	datasetID := globalid.Encode(globalid.TagDataset, 7)

	t.Run("version of another dataset is not found", func(t *testing.T) {
		svc, _, datasetRepo, _, _ := newDatasetService()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("GetVersionByID", ctx, int64(42)).
			Return(&domain.DatasetVersion{ID: 42, DatasetID: 8, CreatedAt: time.Now()}, nil)

		versionID := globalid.Encode(globalid.TagDatasetVersion, 42)
		_, err := svc.GetExamples(ctx, datasetID, &versionID)

		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestDatasetService_ExampleCache(t *testing.T) {
	ctx := context.Background()
	datasetID := globalid.Encode(globalid.TagDataset, 7)
	resolved := []*domain.ResolvedExample{{
		ExampleID:  100,
		RevisionID: 5,
		Input:      map[string]any{"q": "France"},
		Output:     map[string]any{"a": "Paris"},
		UpdatedAt:  time.Now().UTC().Truncate(time.Second),
	}}

	t.Run("serves resolved examples from the cache", func(t *testing.T) {
		svc, _, datasetRepo, revisionLog, cache := newDatasetServiceWithCache()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("GetLatestVersion", ctx, int64(7)).
			Return(&domain.DatasetVersion{ID: 42, DatasetID: 7}, nil)

		raw, err := encodeCachedExamples(resolved)
		require.NoError(t, err)
		cache.On("Get", ctx, "dataset:7:examples:42").Return(raw, nil)

		examples, err := svc.GetExamples(ctx, datasetID, nil)

		require.NoError(t, err)
		require.Len(t, examples, 1)
		assert.Equal(t, int64(100), examples[0].ExampleID)
		assert.Equal(t, "Paris", examples[0].Output["a"])
		revisionLog.AssertNotCalled(t, "ResolveDataset", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("miss resolves and populates the cache", func(t *testing.T) {
		svc, _, datasetRepo, revisionLog, cache := newDatasetServiceWithCache()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("GetLatestVersion", ctx, int64(7)).
			Return(&domain.DatasetVersion{ID: 42, DatasetID: 7}, nil)
		cache.On("Get", ctx, "dataset:7:examples:42").Return("", errors.New("redis: nil"))
		revisionLog.On("ResolveDataset", ctx, int64(7), int64(42)).Return(resolved, nil)
		cache.On("Set", ctx, "dataset:7:examples:42", mock.Anything, exampleCacheTTL).Return(nil)

		examples, err := svc.GetExamples(ctx, datasetID, nil)

		require.NoError(t, err)
		require.Len(t, examples, 1)
		cache.AssertExpectations(t)
	})

	t.Run("a failed cache write does not fail the read", func(t *testing.T) {
		svc, _, datasetRepo, revisionLog, cache := newDatasetServiceWithCache()
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("GetLatestVersion", ctx, int64(7)).
			Return(&domain.DatasetVersion{ID: 42, DatasetID: 7}, nil)
		cache.On("Get", ctx, "dataset:7:examples:42").Return("", errors.New("redis: nil"))
		revisionLog.On("ResolveDataset", ctx, int64(7), int64(42)).Return(resolved, nil)
		cache.On("Set", ctx, "dataset:7:examples:42", mock.Anything, exampleCacheTTL).
			Return(errors.New("redis unavailable"))

		examples, err := svc.GetExamples(ctx, datasetID, nil)

		require.NoError(t, err)
		require.Len(t, examples, 1)
	})

	t.Run("mutation batch invalidates cached resolutions", func(t *testing.T) {
		svc, db, datasetRepo, revisionLog, cache := newDatasetServiceWithCache()
		db.On("InTx", ctx, mock.Anything).Return(nil)
		datasetRepo.On("GetByID", ctx, int64(7)).Return(&domain.Dataset{ID: 7, Name: "capitals"}, nil)
		datasetRepo.On("CreateVersion", ctx, nil, mock.AnythingOfType("*domain.DatasetVersion")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*domain.DatasetVersion).ID = 43
			}).Return(nil)
		datasetRepo.On("CreateExamples", ctx, nil, int64(7), mock.Anything).
			Return([]int64{100}, nil)
		revisionLog.On("Append", ctx, nil, int64(43), mock.Anything).Return(nil)
		cache.On("DelPattern", ctx, "dataset:7:examples:*").Return(int64(2), nil)

		inputs := []domain.ExampleInput{{Input: map[string]any{"q": "France"}}}
		_, _, err := svc.AddExamples(ctx, datasetID, inputs, domain.VersionStamp{})

		require.NoError(t, err)
		cache.AssertExpectations(t)
	})
}
