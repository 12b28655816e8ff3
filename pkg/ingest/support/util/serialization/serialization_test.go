package serialization_test

import (
	"testing"

	"github.com/pagecliff/ingest/pkg/ingest/support/util/serialization"

	"github.com/stretchr/testify/assert"
)

type offsetCursor struct {
	Offset int    `json:"offset"`
	SetID  string `json:"set_id"`
}

func TestMarshalUnmarshalCursor(t *testing.T) {
	state := map[string]interface{}{"offset": 40, "set_id": "neo"}

	data, err := serialization.MarshalCursor(state)
	assert.NoError(t, err)

	var decoded map[string]interface{}
	assert.NoError(t, serialization.UnmarshalCursor(data, &decoded))
	// JSON round-trips numbers as float64.
	assert.Equal(t, float64(40), decoded["offset"])
	assert.Equal(t, "neo", decoded["set_id"])
}

func TestMarshalCursor_NilState(t *testing.T) {
	data, err := serialization.MarshalCursor(nil)
	assert.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestUnmarshalCursor_EmptyDataClearsMap(t *testing.T) {
	state := map[string]interface{}{"stale": true}
	assert.NoError(t, serialization.UnmarshalCursor([]byte("{}"), &state))
	assert.Empty(t, state)

	var nilState map[string]interface{}
	assert.NoError(t, serialization.UnmarshalCursor(nil, &nilState))
	assert.NotNil(t, nilState)
	assert.Empty(t, nilState)
}

func TestEncodeDecodeCursorState(t *testing.T) {
	encoded, err := serialization.EncodeCursorState(offsetCursor{Offset: 120, SetID: "kmr"})
	assert.NoError(t, err)
	assert.Equal(t, float64(120), encoded["offset"])

	// Decoding recovers the integer field from the float64 the JSON
	// round-trip produced.
	var decoded offsetCursor
	assert.NoError(t, serialization.DecodeCursorState(encoded, &decoded))
	assert.Equal(t, 120, decoded.Offset)
	assert.Equal(t, "kmr", decoded.SetID)
}

func TestDecodeCursorState_EmptyMap(t *testing.T) {
	var decoded offsetCursor
	assert.NoError(t, serialization.DecodeCursorState(map[string]interface{}{}, &decoded))
	assert.Zero(t, decoded.Offset)
	assert.Empty(t, decoded.SetID)
}
