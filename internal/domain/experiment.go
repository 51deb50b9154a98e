package domain

import "time"

// Experiment is a task execution campaign pinned to one dataset version.
// The example set it evaluates against is frozen at creation time into a
// crosswalk; later dataset edits never change its scope.
type Experiment struct {
	ID          int64          `json:"-"`
	DatasetID   int64          `json:"-"`
	VersionID   int64          `json:"-"`
	Name        string         `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Repetitions int            `json:"repetitions"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`

	// Aggregated fields (populated by services)
	ExampleCount       int64 `json:"exampleCount,omitempty"`
	SuccessfulRunCount int64 `json:"successfulRunCount,omitempty"`
	FailedRunCount     int64 `json:"failedRunCount,omitempty"`
	MissingRunCount    int64 `json:"missingRunCount,omitempty"`
}

// ExperimentInput represents input for creating an experiment
type ExperimentInput struct {
	Name        string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string         `json:"description,omitempty"`
	VersionID   *string         `json:"versionId,omitempty"`
	Splits      []SplitSelector `json:"splits,omitempty"`
	Repetitions int             `json:"repetitions" validate:"required,gt=0"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ExperimentRun is one execution attempt, keyed by
// (experiment, example, repetition number).
type ExperimentRun struct {
	ID               int64          `json:"-"`
	ExperimentID     int64          `json:"-"`
	ExampleID        int64          `json:"-"`
	RepetitionNumber int            `json:"repetitionNumber"`
	Output           map[string]any `json:"output"`
	Error            *string        `json:"error,omitempty"`
	StartTime        time.Time      `json:"startTime"`
	EndTime          time.Time      `json:"endTime"`
	TraceRef         *string        `json:"traceRef,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`

	// Related data (populated on export)
	Annotations []RunAnnotation `json:"annotations,omitempty"`
}

// Succeeded reports whether the run completed without an error.
func (r *ExperimentRun) Succeeded() bool {
	return r.Error == nil
}

// RunUpsertInput represents input for recording an execution
type RunUpsertInput struct {
	ExampleID        string         `json:"exampleId" validate:"required"`
	RepetitionNumber int            `json:"repetitionNumber" validate:"required,gt=0"`
	Output           map[string]any `json:"output"`
	Error            *string        `json:"error,omitempty"`
	StartTime        time.Time      `json:"startTime" validate:"required"`
	EndTime          time.Time      `json:"endTime" validate:"required"`
	TraceRef         *string        `json:"traceRef,omitempty"`
}

// RunAnnotation is an evaluator's verdict on one run, keyed by
// (run, evaluator name). Error marks evaluation failure, which is
// distinct from the run's own failure.
type RunAnnotation struct {
	ID        int64          `json:"-"`
	RunID     int64          `json:"-"`
	Name      string         `json:"name"`
	Label     *string        `json:"label,omitempty"`
	Score     *float64       `json:"score,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AnnotationInput represents input for recording an evaluator verdict
type AnnotationInput struct {
	RunID    string         `json:"runId" validate:"required"`
	Name     string         `json:"name" validate:"required,min=1,max=200"`
	Label    *string        `json:"label,omitempty"`
	Score    *float64       `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *string        `json:"error,omitempty"`
}

// RunCompletionRow is one aggregate row of the incomplete-runs report
// as the store returns it: an example from the experiment crosswalk
// together with the repetition numbers that already have a successful
// run. The missing-repetition complement is computed from it.
type RunCompletionRow struct {
	ExampleID      int64
	SuccessfulReps []int64
}

// EvaluationCompletionRow is one aggregate row of the incomplete-
// evaluations report as the store returns it: a successful run together
// with the evaluator names that already produced a non-errored
// annotation for it.
type EvaluationCompletionRow struct {
	Run            ExperimentRun
	SucceededNames []string
}

// IncompleteRun pairs an example from the experiment snapshot with the
// repetition numbers that still lack a successful run, plus the example
// content resolved as of the experiment's pinned version.
type IncompleteRun struct {
	ExampleID          int64            `json:"-"`
	MissingRepetitions []int            `json:"missingRepetitions"`
	Example            *ResolvedExample `json:"example,omitempty"`
}

// IncompleteEvaluation pairs a run with the required evaluator names
// that still lack a non-errored annotation.
type IncompleteEvaluation struct {
	Run                   *ExperimentRun   `json:"run"`
	Example               *ResolvedExample `json:"example,omitempty"`
	MissingEvaluatorNames []string         `json:"missingEvaluatorNames"`
}

// ExperimentCounts holds the three aggregate counts the summary report
// is derived from. Missing runs are never enumerated:
// missing = exampleCount*repetitions - successful - failed.
type ExperimentCounts struct {
	ExampleCount       int64
	SuccessfulRunCount int64
	FailedRunCount     int64
}

// MissingRunCount derives the number of outstanding (example, repetition)
// pairs for the given repetition setting.
func (c ExperimentCounts) MissingRunCount(repetitions int) int64 {
	return c.ExampleCount*int64(repetitions) - c.SuccessfulRunCount - c.FailedRunCount
}

// RunExportRecord is one denormalized row of the full run history
// export: the run plus its annotation fields flattened per evaluator.
type RunExportRecord struct {
	RunID            string              `json:"runId"`
	ExampleID        string              `json:"exampleId"`
	RepetitionNumber int                 `json:"repetitionNumber"`
	Input            map[string]any      `json:"input"`
	ExpectedOutput   map[string]any      `json:"expectedOutput"`
	Output           map[string]any      `json:"output"`
	Error            *string             `json:"error,omitempty"`
	StartTime        time.Time           `json:"startTime"`
	EndTime          time.Time           `json:"endTime"`
	TraceRef         *string             `json:"traceRef,omitempty"`
	AnnotationScores map[string]*float64 `json:"annotationScores,omitempty"`
	AnnotationLabels map[string]*string  `json:"annotationLabels,omitempty"`
	AnnotationErrors map[string]*string  `json:"annotationErrors,omitempty"`
}

// ExportFormat is the serialization format of an experiment export
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// IsValid checks if the export format is valid
func (f ExportFormat) IsValid() bool {
	switch f {
	case ExportFormatJSON, ExportFormatCSV:
		return true
	}
	return false
}
