// Package fields provides tolerant lookups over decoded JSON objects.
//
// Upstream recognition APIs rename fields between versions. Callers keep an
// ordered list of candidate names per semantic value and take the first one
// that is present, so an API change touches only the candidate lists.
package fields

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Object is a decoded JSON object.
type Object map[string]any

// FirstPresent returns the value of the first candidate name present in obj
// with a non-null value.
func FirstPresent(obj Object, names []string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	for _, name := range names {
		v, ok := obj[name]
		if !ok || v == nil {
			continue
		}
		return v, true
	}
	return nil, false
}

// FirstString returns the first candidate that holds a non-empty string.
func FirstString(obj Object, names []string) (string, bool) {
	if obj == nil {
		return "", false
	}
	for _, name := range names {
		s, ok := obj[name].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		return s, true
	}
	return "", false
}

// FirstInt64 returns the first candidate that can be read as an integer.
// JSON numbers and numeric strings are accepted; fractional values are truncated.
func FirstInt64(obj Object, names []string) (int64, bool) {
	if obj == nil {
		return 0, false
	}
	for _, name := range names {
		if n, ok := toInt64(obj[name]); ok {
			return n, true
		}
	}
	return 0, false
}

// Nested returns the first candidate whose value is itself an object.
func Nested(obj Object, names []string) (Object, bool) {
	if obj == nil {
		return nil, false
	}
	for _, name := range names {
		switch v := obj[name].(type) {
		case map[string]any:
			return Object(v), true
		case Object:
			return v, true
		}
	}
	return nil, false
}

// Decode parses a JSON object. Numbers are kept as json.Number so large
// millisecond offsets survive without float rounding.
func Decode(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
