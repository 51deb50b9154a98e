package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional_States(t *testing.T) {
	t.Run("some", func(t *testing.T) {
		o := Some("hello")
		assert.True(t, o.IsPresent())
		assert.False(t, o.IsNull())
		v, ok := o.Value()
		assert.True(t, ok)
		assert.Equal(t, "hello", v)
		assert.Equal(t, "hello", o.Or("fallback"))
	})

	t.Run("null", func(t *testing.T) {
		o := Null[string]()
		assert.True(t, o.IsPresent())
		assert.True(t, o.IsNull())
		_, ok := o.Value()
		assert.False(t, ok)
		assert.Equal(t, "fallback", o.Or("fallback"))
	})

	t.Run("none", func(t *testing.T) {
		o := None[string]()
		assert.False(t, o.IsPresent())
		assert.False(t, o.IsNull())
		_, ok := o.Value()
		assert.False(t, ok)
		assert.Equal(t, "fallback", o.Or("fallback"))
	})
}

func TestOptional_UnmarshalJSON(t *testing.T) {
	type patch struct {
		Input    Optional[map[string]any] `json:"input"`
		Output   Optional[map[string]any] `json:"output"`
		Metadata Optional[map[string]any] `json:"metadata"`
	}

	t.Run("distinguishes omitted, null and set", func(t *testing.T) {
		var p patch
		require.NoError(t, json.Unmarshal([]byte(`{"input":{"q":"hi"},"output":null}`), &p))

		v, ok := p.Input.Value()
		assert.True(t, ok)
		assert.Equal(t, "hi", v["q"])

		assert.True(t, p.Output.IsPresent())
		assert.True(t, p.Output.IsNull())

		assert.False(t, p.Metadata.IsPresent())
	})

	t.Run("empty object is set, not null", func(t *testing.T) {
		var p patch
		require.NoError(t, json.Unmarshal([]byte(`{"input":{}}`), &p))

		v, ok := p.Input.Value()
		assert.True(t, ok)
		assert.Empty(t, v)
	})
}

func TestOptional_MarshalJSON(t *testing.T) {
	type doc struct {
		A Optional[int] `json:"a"`
		B Optional[int] `json:"b"`
		C Optional[int] `json:"c"`
	}

	data, err := json.Marshal(doc{A: Some(7), B: Null[int](), C: None[int]()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":7,"b":null,"c":null}`, string(data))
}
