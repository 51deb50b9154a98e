package domain

import "time"

// RevisionKind is the kind of an example revision
type RevisionKind string

const (
	RevisionKindCreate RevisionKind = "CREATE"
	RevisionKindPatch  RevisionKind = "PATCH"
	RevisionKindDelete RevisionKind = "DELETE"
)

// IsValid checks if the revision kind is valid
func (k RevisionKind) IsValid() bool {
	switch k {
	case RevisionKindCreate, RevisionKindPatch, RevisionKindDelete:
		return true
	}
	return false
}

// Dataset represents a named collection of versioned examples
type Dataset struct {
	ID          int64          `json:"-"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`

	// Aggregated fields (populated by services)
	ExampleCount    int64 `json:"exampleCount,omitempty"`
	ExperimentCount int64 `json:"experimentCount,omitempty"`
}

// DatasetVersion is a checkpoint stamp grouping the revisions committed
// by one mutation batch. Every successful batch creates exactly one.
type DatasetVersion struct {
	ID          int64          `json:"-"`
	DatasetID   int64          `json:"-"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// DatasetExample is a stable identity within one dataset. It carries no
// content of its own; content lives entirely in revisions.
type DatasetExample struct {
	ID        int64     `json:"-"`
	DatasetID int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExampleRevision is one immutable content snapshot of an example.
// DELETE revisions carry cleared payloads.
type ExampleRevision struct {
	ID        int64          `json:"-"`
	ExampleID int64          `json:"-"`
	VersionID int64          `json:"-"`
	Input     map[string]any `json:"input"`
	Output    map[string]any `json:"output"`
	Metadata  map[string]any `json:"metadata"`
	Kind      RevisionKind   `json:"kind"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ResolvedExample is the effective content of an example as of a
// specific dataset version.
type ResolvedExample struct {
	ExampleID  int64          `json:"-"`
	RevisionID int64          `json:"-"`
	Input      map[string]any `json:"input"`
	Output     map[string]any `json:"output"`
	Metadata   map[string]any `json:"metadata"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// DatasetSplit is a named subset of a dataset's examples, used to scope
// an experiment's snapshot at creation time.
type DatasetSplit struct {
	ID        int64          `json:"-"`
	DatasetID int64          `json:"-"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// DatasetInput represents input for creating a dataset
type DatasetInput struct {
	Name        string         `json:"name" validate:"required,min=1,max=200"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DatasetPatch carries a partial update of the dataset row itself.
// Description accepts an explicit null; Name and Metadata do not.
type DatasetPatch struct {
	Name        Optional[string]         `json:"name"`
	Description Optional[string]         `json:"description"`
	Metadata    Optional[map[string]any] `json:"metadata"`
}

// IsEmpty reports whether the patch changes nothing.
func (p DatasetPatch) IsEmpty() bool {
	return !p.Name.IsPresent() && !p.Description.IsPresent() && !p.Metadata.IsPresent()
}

// ExampleInput represents one example payload to add to a dataset
type ExampleInput struct {
	Input          map[string]any `json:"input" validate:"required"`
	Output         map[string]any `json:"output,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SourceRecordID *string        `json:"sourceRecordId,omitempty"`
}

// ExamplePatch carries a partial content update for one example. Fields
// omitted from the patch fall back to the prior revision's equivalent
// field (shallow, not a deep merge).
type ExamplePatch struct {
	ExampleID string                   `json:"exampleId" validate:"required"`
	Input     Optional[map[string]any] `json:"input"`
	Output    Optional[map[string]any] `json:"output"`
	Metadata  Optional[map[string]any] `json:"metadata"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ExamplePatch) IsEmpty() bool {
	return !p.Input.IsPresent() && !p.Output.IsPresent() && !p.Metadata.IsPresent()
}

// VersionStamp carries the optional description/metadata recorded on the
// DatasetVersion a mutation batch creates.
type VersionStamp struct {
	Description *string        `json:"versionDescription,omitempty"`
	Metadata    map[string]any `json:"versionMetadata,omitempty"`
}

// RevisionEntry is one row handed to the revision log for appending.
type RevisionEntry struct {
	ExampleID int64
	Kind      RevisionKind
	Input     map[string]any
	Output    map[string]any
	Metadata  map[string]any
}

// SourceRecord is a captured production payload (for example a traced
// LLM call) that examples can be derived from. Records are ingested
// outside the mutation engine and read-only here.
type SourceRecord struct {
	ID        int64          `json:"-"`
	Input     map[string]any `json:"input"`
	Output    map[string]any `json:"output"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// DatasetFilter represents filter options for querying datasets
type DatasetFilter struct {
	Name *string
}

// SplitSelector references a split by opaque id or by name.
type SplitSelector struct {
	ID   *string `json:"id,omitempty"`
	Name *string `json:"name,omitempty"`
}
