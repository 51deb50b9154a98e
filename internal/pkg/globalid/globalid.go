// Package globalid implements the opaque public identifier codec.
//
// A global id encodes a type tag and an integer storage key as an
// opaque string. The codec is pure: it never touches storage, and
// storage key types never leak into the public identifier format.
package globalid

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies the entity type an id refers to.
type Tag string

const (
	TagDataset        Tag = "Dataset"
	TagDatasetVersion Tag = "DatasetVersion"
	TagDatasetExample Tag = "DatasetExample"
	TagDatasetSplit   Tag = "DatasetSplit"
	TagExperiment     Tag = "Experiment"
	TagExperimentRun  Tag = "ExperimentRun"
	TagRunAnnotation  Tag = "ExperimentRunAnnotation"
	TagSourceRecord   Tag = "SourceRecord"
)

// IsValid checks if the tag is a known entity type.
func (t Tag) IsValid() bool {
	switch t {
	case TagDataset, TagDatasetVersion, TagDatasetExample, TagDatasetSplit,
		TagExperiment, TagExperimentRun, TagRunAnnotation, TagSourceRecord:
		return true
	}
	return false
}

// Encode builds the opaque id string for a tag and storage key.
func Encode(tag Tag, key int64) string {
	raw := string(tag) + ":" + strconv.FormatInt(key, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque id string into its tag and storage key.
func Decode(id string) (Tag, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", 0, fmt.Errorf("malformed id %q: %w", id, err)
	}

	tagStr, keyStr, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed id %q: missing type tag", id)
	}

	tag := Tag(tagStr)
	if !tag.IsValid() {
		return "", 0, fmt.Errorf("unknown id type %q", tagStr)
	}

	key, err := strconv.ParseInt(keyStr, 10, 64)
	if err != nil || key <= 0 {
		return "", 0, fmt.Errorf("malformed id %q: invalid key", id)
	}

	return tag, key, nil
}

// KeyFor decodes an id and checks that its tag matches the expected
// entity type.
func KeyFor(id string, expected Tag) (int64, error) {
	tag, key, err := Decode(id)
	if err != nil {
		return 0, err
	}
	if tag != expected {
		return 0, fmt.Errorf("expected %s id, got %s", expected, tag)
	}
	return key, nil
}

// KeysFor decodes a batch of ids against one expected tag, preserving
// order. Decoding stops at the first malformed id.
func KeysFor(ids []string, expected Tag) ([]int64, error) {
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		key, err := KeyFor(id, expected)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
