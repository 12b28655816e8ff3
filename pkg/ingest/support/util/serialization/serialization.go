// Package serialization provides utilities for serializing the opaque state
// blobs persisted with a checkpoint row, and for converting them to and from
// the typed per-job cursor structures the engine operates on. Business logic
// never touches the untyped map directly: it is decoded into a typed
// structure immediately after load and re-encoded on save.
package serialization

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"

	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

const module = "serialization"

// MarshalCursor serializes a cursor state map into a JSON byte slice.
func MarshalCursor(state map[string]interface{}) ([]byte, error) {
	if state == nil {
		logger.Debugf("Cursor state is nil. Returning empty JSON object.")
		return []byte("{}"), nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		logger.Errorf("Failed to serialize cursor state: %v", err)
		return nil, exception.NewPipelineError(module, "Failed to serialize cursor state", err, false, false)
	}
	return data, nil
}

// UnmarshalCursor deserializes a JSON byte slice into a cursor state map.
func UnmarshalCursor(data []byte, state *map[string]interface{}) error {
	if *state == nil {
		*state = make(map[string]interface{})
	} else {
		for k := range *state {
			delete(*state, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		logger.Debugf("Cursor state is nil or empty data. Created/cleared empty map.")
		return nil
	}

	if err := json.Unmarshal(data, state); err != nil {
		logger.Errorf("Failed to deserialize cursor state: %v", err)
		return exception.NewPipelineError(module, "Failed to deserialize cursor state", err, false, false)
	}
	return nil
}

// DecodeCursorState decodes an opaque cursor state map into a typed per-job
// structure. JSON round-trips turn every number into float64, so decoding is
// weakly typed to recover integer cursor fields.
func DecodeCursorState(state map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return exception.NewPipelineError(module, "Failed to build cursor state decoder", err, false, false)
	}
	if err := decoder.Decode(state); err != nil {
		return exception.NewPipelineErrorf(module, "Failed to decode cursor state into %T", out, err)
	}
	return nil
}

// EncodeCursorState encodes a typed per-job cursor structure back into the
// opaque map persisted at the storage boundary.
func EncodeCursorState(in interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, exception.NewPipelineErrorf(module, "Failed to encode cursor state from %T", in, err)
	}
	var state map[string]interface{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, exception.NewPipelineError(module, "Failed to re-shape cursor state", err, false, false)
	}
	if state == nil {
		state = map[string]interface{}{}
	}
	return state, nil
}
