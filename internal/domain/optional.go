package domain

import (
	"bytes"
	"encoding/json"
)

// Optional wraps a patch field so that "omitted", "explicitly null" and
// "set to a value" are three distinguishable states. A plain pointer
// cannot tell the first two apart, which matters for fields like a
// dataset description that may be cleared with an explicit null.
type Optional[T any] struct {
	value   T
	present bool
	null    bool
}

// Some returns an Optional holding the given value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, present: true}
}

// Null returns an Optional that is present but explicitly null.
func Null[T any]() Optional[T] {
	return Optional[T]{present: true, null: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// IsPresent reports whether the field appeared in the patch at all.
func (o Optional[T]) IsPresent() bool {
	return o.present
}

// IsNull reports whether the field was set to an explicit null.
func (o Optional[T]) IsNull() bool {
	return o.present && o.null
}

// Value returns the wrapped value and whether it carries one
// (present and not null).
func (o Optional[T]) Value() (T, bool) {
	if !o.present || o.null {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Or returns the wrapped value, or fallback when the field is absent
// or null. This is the shallow-merge primitive used when building a
// PATCH revision from a prior revision.
func (o Optional[T]) Or(fallback T) T {
	if v, ok := o.Value(); ok {
		return v
	}
	return fallback
}

// UnmarshalJSON records presence: the method is only invoked for keys
// that appear in the document, so any call marks the field present.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.present = true
	if bytes.Equal(data, []byte("null")) {
		o.null = true
		return nil
	}
	return json.Unmarshal(data, &o.value)
}

// MarshalJSON encodes the value, or null when absent or explicitly null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if v, ok := o.Value(); ok {
		return json.Marshal(v)
	}
	return []byte("null"), nil
}
