package unifi

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one loosely-typed object from a controller "data" array.
// Controller firmware versions disagree on field names and value types, so
// every read goes through the lenient accessors below.
type Record map[string]any

// Str returns the first key holding a string, number, or bool, rendered as a
// string. An empty string still counts as present.
func (r Record) Str(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t, true
		case json.Number:
			return t.String(), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		}
	}
	return "", false
}

// StrStrict is like Str but only accepts string values.
func (r Record) StrStrict(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := r[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

// Text returns the first non-blank string among keys, trimmed.
func (r Record) Text(keys ...string) string {
	for _, k := range keys {
		if s, ok := r.Str(k); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// TextStrict is Text restricted to string values.
func (r Record) TextStrict(keys ...string) string {
	for _, k := range keys {
		if s, ok := r.StrStrict(k); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// Int returns the first key holding a number or a numeric string. Fractions
// truncate toward zero and out-of-range values saturate.
func (r Record) Int(keys ...string) (int, bool) {
	for _, k := range keys {
		switch t := r[k].(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil && n >= math.MinInt && n <= math.MaxInt {
				return int(n), true
			}
			if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
				if n, ok := floatToInt(f); ok {
					return n, true
				}
			}
		case float64:
			if n, ok := floatToInt(t); ok {
				return n, true
			}
		case string:
			s := strings.TrimSpace(t)
			if n, err := strconv.Atoi(s); err == nil {
				return n, true
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				if n, ok := floatToInt(f); ok {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f >= math.MaxInt:
		return math.MaxInt, true
	case f <= math.MinInt:
		return math.MinInt, true
	}
	return int(f), true
}

// Bool returns the first key holding a bool, "true"/"false", or a number
// (non-zero is true).
func (r Record) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		switch t := r[k].(type) {
		case bool:
			return t, true
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f != 0, true
			}
		case float64:
			return t != 0, true
		}
	}
	return false, false
}

// Object returns a nested object value.
func (r Record) Object(key string) (Record, bool) {
	switch t := r[key].(type) {
	case map[string]any:
		return Record(t), true
	case Record:
		return t, true
	}
	return nil, false
}

// Array returns a nested array of objects, skipping non-object elements.
func (r Record) Array(key string) []Record {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// UnixTime interprets a positive integer field as Unix seconds.
func (r Record) UnixTime(key string) (time.Time, bool) {
	n, ok := r.Int(key)
	if !ok || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

// NormalizeMAC lower-cases a MAC address and uses ':' as the separator.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	return strings.NewReplacer("-", ":", ".", ":").Replace(mac)
}
