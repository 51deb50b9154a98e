package domain

import (
	"encoding/json"

	"github.com/evalforge/evalforge/api/internal/pkg/globalid"
)

// Storage keys never appear on the wire. The MarshalJSON methods below
// attach the opaque public id (and cross-entity references) to each
// entity's JSON form; the int64 keys themselves stay json:"-".

func (d Dataset) MarshalJSON() ([]byte, error) {
	type alias Dataset
	return json.Marshal(struct {
		ID string `json:"id"`
		alias
	}{
		ID:    globalid.Encode(globalid.TagDataset, d.ID),
		alias: alias(d),
	})
}

func (v DatasetVersion) MarshalJSON() ([]byte, error) {
	type alias DatasetVersion
	return json.Marshal(struct {
		ID        string `json:"id"`
		DatasetID string `json:"datasetId"`
		alias
	}{
		ID:        globalid.Encode(globalid.TagDatasetVersion, v.ID),
		DatasetID: globalid.Encode(globalid.TagDataset, v.DatasetID),
		alias:     alias(v),
	})
}

func (s DatasetSplit) MarshalJSON() ([]byte, error) {
	type alias DatasetSplit
	return json.Marshal(struct {
		ID string `json:"id"`
		alias
	}{
		ID:    globalid.Encode(globalid.TagDatasetSplit, s.ID),
		alias: alias(s),
	})
}

func (e ResolvedExample) MarshalJSON() ([]byte, error) {
	type alias ResolvedExample
	return json.Marshal(struct {
		ID string `json:"id"`
		alias
	}{
		ID:    globalid.Encode(globalid.TagDatasetExample, e.ExampleID),
		alias: alias(e),
	})
}

func (e Experiment) MarshalJSON() ([]byte, error) {
	type alias Experiment
	return json.Marshal(struct {
		ID        string `json:"id"`
		DatasetID string `json:"datasetId"`
		VersionID string `json:"versionId"`
		alias
	}{
		ID:        globalid.Encode(globalid.TagExperiment, e.ID),
		DatasetID: globalid.Encode(globalid.TagDataset, e.DatasetID),
		VersionID: globalid.Encode(globalid.TagDatasetVersion, e.VersionID),
		alias:     alias(e),
	})
}

func (r ExperimentRun) MarshalJSON() ([]byte, error) {
	type alias ExperimentRun
	return json.Marshal(struct {
		ID        string `json:"id"`
		ExampleID string `json:"exampleId"`
		alias
	}{
		ID:        globalid.Encode(globalid.TagExperimentRun, r.ID),
		ExampleID: globalid.Encode(globalid.TagDatasetExample, r.ExampleID),
		alias:     alias(r),
	})
}

func (a RunAnnotation) MarshalJSON() ([]byte, error) {
	type alias RunAnnotation
	return json.Marshal(struct {
		ID    string `json:"id"`
		RunID string `json:"runId"`
		alias
	}{
		ID:    globalid.Encode(globalid.TagRunAnnotation, a.ID),
		RunID: globalid.Encode(globalid.TagExperimentRun, a.RunID),
		alias: alias(a),
	})
}

func (r IncompleteRun) MarshalJSON() ([]byte, error) {
	type alias IncompleteRun
	return json.Marshal(struct {
		ExampleID string `json:"exampleId"`
		alias
	}{
		ExampleID: globalid.Encode(globalid.TagDatasetExample, r.ExampleID),
		alias:     alias(r),
	})
}
