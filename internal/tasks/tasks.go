// Package tasks defines the background task types shared between the
// services that enqueue them and the workers that process them.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/evalforge/evalforge/api/internal/domain"
)

const (
	// TypeDatasetCleanup is the task type for post-delete dataset cleanup
	TypeDatasetCleanup = "cleanup:dataset"
	// TypeExperimentExport is the task type for experiment run history export
	TypeExperimentExport = "export:experiment"
)

// DatasetCleanupPayload is the payload for dataset cleanup tasks.
// DatasetName travels with the id because the dataset row is already
// gone by the time the task runs.
type DatasetCleanupPayload struct {
	DatasetID   int64  `json:"dataset_id"`
	DatasetName string `json:"dataset_name"`
}

// NewDatasetCleanupTask creates a dataset cleanup task
func NewDatasetCleanupTask(payload *DatasetCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dataset cleanup payload: %w", err)
	}
	return asynq.NewTask(TypeDatasetCleanup, data, asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}

// ExperimentExportPayload is the payload for experiment export tasks
type ExperimentExportPayload struct {
	ExperimentID int64               `json:"experiment_id"`
	Format       domain.ExportFormat `json:"format"`
}

// NewExperimentExportTask creates an experiment export task
func NewExperimentExportTask(payload *ExperimentExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal experiment export payload: %w", err)
	}
	return asynq.NewTask(TypeExperimentExport, data, asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}
