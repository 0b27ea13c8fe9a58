package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/petrijr/synapse/pkg/api"
)

// EncodeValue serializes a snapshot value as JSON text.
// A nil value encodes to the empty string, which DecodeValue treats as
// an absent snapshot.
func EncodeValue(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeValue parses JSON text produced by EncodeValue.
//
// Absent snapshots ("" or "null") decode to an empty map rather than nil.
// Integral numbers are returned as int64 and all other numbers as float64,
// so integers survive a round trip without turning into floats.
func DecodeValue(data string) (any, error) {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return normalizeNumbers(v), nil
}

// EncodeContext is EncodeValue for a context snapshot. A nil context
// encodes as an empty JSON object.
func EncodeContext(c api.Context) (string, error) {
	if c == nil {
		return "{}", nil
	}
	return EncodeValue(map[string]any(c))
}

// DecodeContext parses a context snapshot. The JSON value must be an
// object; absent snapshots decode to an empty Context.
func DecodeContext(data string) (api.Context, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode snapshot: expected JSON object, got %T", v)
	}
	return api.Context(m), nil
}

// EncodeErrorInfo serializes attempt failure details. A nil info encodes to
// the empty string.
func EncodeErrorInfo(info *api.ErrorInfo) (string, error) {
	if info == nil {
		return "", nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode error info: %w", err)
	}
	return string(b), nil
}

// DecodeErrorInfo parses the output of EncodeErrorInfo. Empty input means
// the attempt succeeded and yields nil.
func DecodeErrorInfo(data string) (*api.ErrorInfo, error) {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var info api.ErrorInfo
	if err := json.Unmarshal([]byte(trimmed), &info); err != nil {
		return nil, fmt.Errorf("decode error info: %w", err)
	}
	return &info, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, vv := range t {
			t[k] = normalizeNumbers(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = normalizeNumbers(vv)
		}
		return t
	default:
		return v
	}
}

// roundTrip passes a value through the codec so every backend returns the
// same shapes regardless of how it stores them.
func roundTrip(v any) (any, error) {
	s, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return DecodeValue(s)
}

func roundTripContext(c api.Context) (api.Context, error) {
	s, err := EncodeContext(c)
	if err != nil {
		return nil, err
	}
	return DecodeContext(s)
}
