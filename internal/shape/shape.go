// Package shape reads values out of loosely-typed JSON documents. The storefront API answers with
// several envelope and field layouts, so callers describe each value as an ordered list of
// extractors and take the first one that yields something usable.
package shape

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is a decoded JSON object.
type Record = map[string]any

// Extractor reads one candidate value from a record.
type Extractor func(Record) (any, bool)

// Field returns an extractor that walks nested objects by key. Array segments are not indexed;
// use Index for those.
func Field(path ...string) Extractor {
	return func(rec Record) (any, bool) {
		return Lookup(rec, path...)
	}
}

// Index returns an extractor that reads element i of the array at path.
func Index(i int, path ...string) Extractor {
	return func(rec Record) (any, bool) {
		raw, ok := Lookup(rec, path...)
		if !ok {
			return nil, false
		}
		list, ok := raw.([]any)
		if !ok || i < 0 || i >= len(list) || list[i] == nil {
			return nil, false
		}
		return list[i], true
	}
}

// Lookup walks nested objects by key and reports whether a non-nil value was found.
func Lookup(rec Record, path ...string) (any, bool) {
	var current any = rec
	for _, key := range path {
		obj, ok := AsRecord(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// First returns the first value produced by extractors for which accept reports true.
func First(rec Record, accept func(any) bool, extractors ...Extractor) (any, bool) {
	if rec == nil {
		return nil, false
	}
	for _, extract := range extractors {
		value, ok := extract(rec)
		if !ok {
			continue
		}
		if accept == nil || accept(value) {
			return value, true
		}
	}
	return nil, false
}

// FirstString returns the first non-blank string among extractors, trimmed.
func FirstString(rec Record, extractors ...Extractor) string {
	value, ok := First(rec, func(v any) bool {
		s, ok := AsString(v)
		return ok && s != ""
	}, extractors...)
	if !ok {
		return ""
	}
	s, _ := AsString(value)
	return s
}

// FirstNumber returns the first numeric value among extractors.
func FirstNumber(rec Record, extractors ...Extractor) (float64, bool) {
	value, ok := First(rec, func(v any) bool {
		_, ok := AsFloat(v)
		return ok
	}, extractors...)
	if !ok {
		return 0, false
	}
	return AsFloat(value)
}

// FirstRecord returns the first object value among extractors.
func FirstRecord(rec Record, extractors ...Extractor) (Record, bool) {
	value, ok := First(rec, func(v any) bool {
		_, ok := AsRecord(v)
		return ok
	}, extractors...)
	if !ok {
		return nil, false
	}
	return AsRecord(value)
}

// FirstList returns the first array value among extractors.
func FirstList(rec Record, extractors ...Extractor) ([]any, bool) {
	value, ok := First(rec, func(v any) bool {
		_, ok := v.([]any)
		return ok
	}, extractors...)
	if !ok {
		return nil, false
	}
	return value.([]any), true
}

// AsRecord reports whether v is a JSON object.
func AsRecord(v any) (Record, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, typed != nil
	default:
		return nil, false
	}
}

// AsString converts strings and scalar numbers to a trimmed string.
func AsString(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed), true
	case json.Number:
		return typed.String(), true
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return "", false
		}
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	default:
		return "", false
	}
}

// AsFloat converts JSON numbers and numeric strings to float64.
func AsFloat(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch typed := v.(type) {
	case float64:
		f = typed
	case float32:
		f = float64(typed)
	case int:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case json.Number:
		f, err = typed.Float64()
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		f, err = strconv.ParseFloat(trimmed, 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsInt converts a numeric value to int, truncating fractions.
func AsInt(v any) (int, bool) {
	f, ok := AsFloat(v)
	if !ok || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// AsBool accepts JSON booleans and the usual textual spellings.
func AsBool(v any) bool {
	switch typed := v.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// Decode parses a JSON document keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize round-trips a Go value through JSON so typed structs can be probed like decoded
// documents.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
