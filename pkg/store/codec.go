package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// encodeVector serializes an embedding for a sqlite-vec insert. The vec0
// virtual table accepts a JSON array of floats.
func encodeVector(v []float32) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(data), nil
}

// decodeVector converts the vector store's native column value into a
// []float32. sqlite-vec returns embeddings as little-endian float32 blobs;
// this is the single point where raw store bytes become a Go slice.
func decodeVector(raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty embedding value")
	}

	// JSON form appears when a row was written but the column read back
	// through a non-vec codepath (e.g. plain text storage in tests).
	if raw[0] == '[' {
		var v []float32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode JSON embedding: %w", err)
		}
		return v, nil
	}

	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(raw))
	}

	v := make([]float32, len(raw)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v, nil
}

// encodeStringList serializes a list-valued scalar column (tag ids,
// attachment ids) as a JSON array. Nil encodes as the empty list.
func encodeStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

// decodeStringList parses a JSON array column back into a slice
func decodeStringList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode string list: %w", err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
