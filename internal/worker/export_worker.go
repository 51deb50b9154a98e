package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/middleware"
	"github.com/evalforge/evalforge/api/internal/pkg/globalid"
	"github.com/evalforge/evalforge/api/internal/tasks"
)

// exportPointerTTL is how long the latest-export pointer key stays
// around for clients polling the export result.
const exportPointerTTL = 24 * time.Hour

// ExperimentExporter is the slice of the experiment service the export
// worker needs
type ExperimentExporter interface {
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	BuildExportRecords(ctx context.Context, experimentID string) ([]domain.RunExportRecord, error)
}

// ObjectUploader stores serialized export artifacts
type ObjectUploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// KeySetter records the latest export object key per experiment
type KeySetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// ExportWorker serializes an experiment's full run history and uploads
// it to object storage.
type ExportWorker struct {
	logger      *zap.Logger
	experiments ExperimentExporter
	store       ObjectUploader
	cache       KeySetter
	bucket      string
}

// NewExportWorker creates a new export worker
func NewExportWorker(
	logger *zap.Logger,
	experiments ExperimentExporter,
	store ObjectUploader,
	cache KeySetter,
	bucket string,
) *ExportWorker {
	return &ExportWorker{
		logger:      logger,
		experiments: experiments,
		store:       store,
		cache:       cache,
		bucket:      bucket,
	}
}

// ProcessTask processes an experiment export task
func (w *ExportWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ExperimentExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal experiment export payload: %w", err)
	}

	format := payload.Format
	if !format.IsValid() {
		return fmt.Errorf("unsupported export format: %s", format)
	}

	start := time.Now()
	w.logger.Info("processing experiment export",
		zap.Int64("experiment_id", payload.ExperimentID),
		zap.String("format", string(format)),
	)

	experimentID := globalid.Encode(globalid.TagExperiment, payload.ExperimentID)
	experiment, err := w.experiments.Get(ctx, experimentID)
	if err != nil {
		middleware.RecordExportJob(string(format), "error")
		return fmt.Errorf("failed to get experiment: %w", err)
	}

	records, err := w.experiments.BuildExportRecords(ctx, experimentID)
	if err != nil {
		middleware.RecordExportJob(string(format), "error")
		return fmt.Errorf("failed to build export records: %w", err)
	}

	var data []byte
	var contentType string
	switch format {
	case domain.ExportFormatJSON:
		data, err = exportJSON(records)
		contentType = "application/json"
	case domain.ExportFormatCSV:
		data, err = exportCSV(records)
		contentType = "text/csv"
	}
	if err != nil {
		middleware.RecordExportJob(string(format), "error")
		return fmt.Errorf("failed to serialize export: %w", err)
	}

	key := exportObjectKey(experiment.DatasetID, experiment.ID, format)
	_, err = w.store.PutObject(ctx, w.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		middleware.RecordExportJob(string(format), "error")
		return fmt.Errorf("failed to upload export: %w", err)
	}

	// Best effort: the artifact is already durable in object storage.
	if err := w.cache.Set(ctx, exportPointerKey(experiment.DatasetID, experiment.ID), key, exportPointerTTL); err != nil {
		w.logger.Warn("failed to record export pointer",
			zap.Int64("experiment_id", experiment.ID),
			zap.Error(err),
		)
	}

	middleware.RecordExportJob(string(format), "ok")
	middleware.RecordExportDuration(string(format), time.Since(start))
	w.logger.Info("experiment export completed",
		zap.Int64("experiment_id", experiment.ID),
		zap.String("key", key),
		zap.Int("records", len(records)),
		zap.Int("size", len(data)),
	)

	return nil
}

// exportObjectKey builds the storage key for an export artifact. Keys
// nest under the dataset prefix so dataset cleanup can sweep them.
func exportObjectKey(datasetID, experimentID int64, format domain.ExportFormat) string {
	return fmt.Sprintf("%sexports/experiment-%d-%s.%s",
		datasetObjectPrefix(datasetID), experimentID, time.Now().UTC().Format("20060102_150405"), format)
}

// exportPointerKey is the cache key holding the latest export object key
// for an experiment
func exportPointerKey(datasetID, experimentID int64) string {
	return fmt.Sprintf("dataset:%d:export:experiment:%d", datasetID, experimentID)
}

// exportJSON serializes records as a JSON array
func exportJSON(records []domain.RunExportRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// exportCSV serializes records as CSV. Annotation fields are flattened
// into per-evaluator columns so rows stay rectangular regardless of
// which evaluators ran.
func exportCSV(records []domain.RunExportRecord) ([]byte, error) {
	evaluators := evaluatorColumns(records)

	header := []string{
		"run_id", "example_id", "repetition_number",
		"input", "expected_output", "output", "error",
		"start_time", "end_time", "trace_ref",
	}
	for _, name := range evaluators {
		header = append(header, name+".score", name+".label", name+".error")
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, record := range records {
		row := []string{
			record.RunID,
			record.ExampleID,
			strconv.Itoa(record.RepetitionNumber),
			jsonCell(record.Input),
			jsonCell(record.ExpectedOutput),
			jsonCell(record.Output),
			stringCell(record.Error),
			record.StartTime.UTC().Format(time.RFC3339Nano),
			record.EndTime.UTC().Format(time.RFC3339Nano),
			stringCell(record.TraceRef),
		}
		for _, name := range evaluators {
			row = append(row,
				floatCell(record.AnnotationScores[name]),
				stringCell(record.AnnotationLabels[name]),
				stringCell(record.AnnotationErrors[name]),
			)
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// evaluatorColumns collects the distinct evaluator names across all
// records, sorted for stable column order
func evaluatorColumns(records []domain.RunExportRecord) []string {
	seen := make(map[string]struct{})
	for _, record := range records {
		for name := range record.AnnotationScores {
			seen[name] = struct{}{}
		}
		for name := range record.AnnotationLabels {
			seen[name] = struct{}{}
		}
		for name := range record.AnnotationErrors {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func jsonCell(value map[string]any) string {
	if len(value) == 0 {
		return ""
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}

func stringCell(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func floatCell(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}
