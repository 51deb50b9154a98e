package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/pkg/metrics"
	"github.com/evalforge/evalforge/api/internal/tasks"
)

// KeySweeper deletes cache keys by glob pattern
type KeySweeper interface {
	DelPattern(ctx context.Context, pattern string) (int64, error)
}

// ObjectRemover lists and removes stored objects
type ObjectRemover interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// CleanupWorker removes the artifacts a deleted dataset leaves behind:
// export objects under the dataset prefix and dataset-scoped cache keys.
// The dataset rows themselves are gone by the time the task runs, the
// delete cascades in the database.
type CleanupWorker struct {
	logger *zap.Logger
	cache  KeySweeper
	store  ObjectRemover
	bucket string
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(logger *zap.Logger, cache KeySweeper, store ObjectRemover, bucket string) *CleanupWorker {
	return &CleanupWorker{
		logger: logger,
		cache:  cache,
		store:  store,
		bucket: bucket,
	}
}

// ProcessTask processes a dataset cleanup task
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.DatasetCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal dataset cleanup payload: %w", err)
	}

	w.logger.Info("processing dataset cleanup",
		zap.Int64("dataset_id", payload.DatasetID),
		zap.String("dataset_name", payload.DatasetName),
	)

	removed, err := w.removeObjects(ctx, payload.DatasetID)
	if err != nil {
		metrics.RecordCleanupTask("error")
		return fmt.Errorf("failed to remove dataset objects: %w", err)
	}

	swept, err := w.cache.DelPattern(ctx, fmt.Sprintf("dataset:%d:*", payload.DatasetID))
	if err != nil {
		metrics.RecordCleanupTask("error")
		return fmt.Errorf("failed to sweep dataset cache keys: %w", err)
	}

	metrics.RecordCleanupTask("ok")
	w.logger.Info("dataset cleanup completed",
		zap.Int64("dataset_id", payload.DatasetID),
		zap.Int("objects_removed", removed),
		zap.Int64("cache_keys_swept", swept),
	)

	return nil
}

// removeObjects deletes every stored object under the dataset prefix
func (w *CleanupWorker) removeObjects(ctx context.Context, datasetID int64) (int, error) {
	prefix := datasetObjectPrefix(datasetID)

	removed := 0
	for object := range w.store.ListObjects(ctx, w.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return removed, fmt.Errorf("failed to list objects under %s: %w", prefix, object.Err)
		}
		if err := w.store.RemoveObject(ctx, w.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to remove object %s: %w", object.Key, err)
		}
		removed++
	}

	return removed, nil
}

// datasetObjectPrefix is the storage prefix all of a dataset's artifacts
// live under
func datasetObjectPrefix(datasetID int64) string {
	return fmt.Sprintf("datasets/%d/", datasetID)
}
