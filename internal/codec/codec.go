// Package codec converts application values to and from the textual form kept
// in the store. Decoding never fails: text that is not JSON is handed back raw,
// and the returned Value records which path was taken.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotJSON = errors.New("codec: value is not json")

// Value is a stored value after decoding.
type Value struct {
	Raw  string
	JSON bool
}

func Decode(raw string) Value {
	return Value{Raw: raw, JSON: json.Valid([]byte(raw))}
}

func (v Value) IsJSON() bool { return v.JSON }

// Into unmarshals the value into dst. Raw fallbacks return ErrNotJSON.
func (v Value) Into(dst any) error {
	if !v.JSON {
		return ErrNotJSON
	}
	return json.Unmarshal([]byte(v.Raw), dst)
}

// Any returns the decoded JSON value, or the raw string for fallbacks.
func (v Value) Any() any {
	if !v.JSON {
		return v.Raw
	}
	var out any
	if err := json.Unmarshal([]byte(v.Raw), &out); err != nil {
		return v.Raw
	}
	return out
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.JSON {
		return []byte(v.Raw), nil
	}
	return json.Marshal(v.Raw)
}

// Encode renders data as JSON. When encoding fails the value is passed through
// as text and fallback is true.
func Encode(data any) (out string, fallback bool) {
	switch d := data.(type) {
	case Value:
		return d.Raw, !d.JSON
	case json.RawMessage:
		if json.Valid(d) {
			return string(d), false
		}
		return string(d), true
	}

	b, err := json.Marshal(data)
	if err == nil {
		return string(b), false
	}
	switch d := data.(type) {
	case fmt.Stringer:
		return d.String(), true
	default:
		return fmt.Sprint(d), true
	}
}
