package worker

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/tasks"
)

// MockKeySweeper mocks the cache sweep
type MockKeySweeper struct {
	mock.Mock
}

func (m *MockKeySweeper) DelPattern(ctx context.Context, pattern string) (int64, error) {
	args := m.Called(ctx, pattern)
	return args.Get(0).(int64), args.Error(1)
}

// fakeObjectStore is an in-memory ObjectRemover
type fakeObjectStore struct {
	objects   []minio.ObjectInfo
	removed   []string
	removeErr error
}

func (s *fakeObjectStore) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(s.objects))
	for _, object := range s.objects {
		ch <- object
	}
	close(ch)
	return ch
}

func (s *fakeObjectStore) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, objectName)
	return nil
}

func newCleanupTask(t *testing.T, datasetID int64, name string) *tasks.DatasetCleanupPayload {
	t.Helper()
	return &tasks.DatasetCleanupPayload{DatasetID: datasetID, DatasetName: name}
}

func TestCleanupWorker_ProcessTask(t *testing.T) {
	t.Run("removes objects and sweeps cache keys", func(t *testing.T) {
		store := &fakeObjectStore{objects: []minio.ObjectInfo{
			{Key: "datasets/7/exports/experiment-9-20260825_100000.csv"},
			{Key: "datasets/7/exports/experiment-9-20260825_110000.json"},
		}}
		cache := new(MockKeySweeper)
		cache.On("DelPattern", mock.Anything, "dataset:7:*").Return(int64(3), nil)

		task, err := tasks.NewDatasetCleanupTask(newCleanupTask(t, 7, "qa-pairs"))
		require.NoError(t, err)

		worker := NewCleanupWorker(zap.NewNop(), cache, store, "evalforge-exports")
		require.NoError(t, worker.ProcessTask(context.Background(), task))

		assert.Len(t, store.removed, 2)
		cache.AssertExpectations(t)
	})

	t.Run("nothing to remove is not an error", func(t *testing.T) {
		store := &fakeObjectStore{}
		cache := new(MockKeySweeper)
		cache.On("DelPattern", mock.Anything, "dataset:8:*").Return(int64(0), nil)

		task, err := tasks.NewDatasetCleanupTask(newCleanupTask(t, 8, "empty"))
		require.NoError(t, err)

		worker := NewCleanupWorker(zap.NewNop(), cache, store, "evalforge-exports")
		assert.NoError(t, worker.ProcessTask(context.Background(), task))
	})

	t.Run("remove failure fails the task for retry", func(t *testing.T) {
		store := &fakeObjectStore{
			objects:   []minio.ObjectInfo{{Key: "datasets/7/exports/a.csv"}},
			removeErr: assert.AnError,
		}
		cache := new(MockKeySweeper)

		task, err := tasks.NewDatasetCleanupTask(newCleanupTask(t, 7, "qa-pairs"))
		require.NoError(t, err)

		worker := NewCleanupWorker(zap.NewNop(), cache, store, "evalforge-exports")
		assert.Error(t, worker.ProcessTask(context.Background(), task))
		cache.AssertNotCalled(t, "DelPattern", mock.Anything, mock.Anything)
	})

	t.Run("listing error aborts the sweep", func(t *testing.T) {
		store := &fakeObjectStore{objects: []minio.ObjectInfo{{Err: assert.AnError}}}
		cache := new(MockKeySweeper)

		task, err := tasks.NewDatasetCleanupTask(newCleanupTask(t, 7, "qa-pairs"))
		require.NoError(t, err)

		worker := NewCleanupWorker(zap.NewNop(), cache, store, "evalforge-exports")
		assert.Error(t, worker.ProcessTask(context.Background(), task))
	})
}
