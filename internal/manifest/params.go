package manifest

import (
	"fmt"
	"strconv"
	"time"
)

// Params is a named parameter bag: weights, thresholds, timing constants and
// feature flags. Values come from YAML, so numbers may be int or float64.
type Params map[string]any

// Merge returns a new bag with overrides applied key by key.
// Neither receiver nor overrides are modified.
func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Float returns key as a float64, or def if missing or not numeric.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns key as an int, or def if missing or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Bool returns key as a bool, or def if missing or not boolean.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// String returns key as a string, or def if missing.
func (p Params) String(key string, def string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

// Duration returns key as a duration. Strings use time.ParseDuration and
// bare numbers are milliseconds.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(p.Float(key, 0) * float64(time.Millisecond))
	}
	return def
}

// StringSlice returns key as a []string, or def if missing.
func (p Params) StringSlice(key string, def []string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v == "" {
			return []string{}
		}
		return []string{v}
	}
	return def
}
