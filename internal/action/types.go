package action

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// #region action
// Action is one record of the append-only action log.
type Action struct {
	ID         int64   `json:"id,omitempty"`
	Timestamp  float64 `json:"timestamp"`
	Source     string  `json:"source"`
	ActionType string  `json:"action_type"`
	Context    Context `json:"context,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
}

// Time converts the float timestamp (seconds since epoch) to a time.Time.
func (a Action) Time() time.Time {
	return TimeOf(a.Timestamp)
}

// TimeOf converts float seconds since epoch to a time.Time.
func TimeOf(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Seconds converts a time.Time to float seconds since epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
// #endregion action

// #region context
// Context is the free-form key/value payload attached to an action.
// Missing or mistyped values read as zero values.
type Context map[string]any

// Has reports whether key is present.
func (c Context) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns the value at key as a string, or "" when absent or not a string.
func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Float returns the value at key as a float64. Numeric strings are parsed.
func (c Context) Float(key string) float64 {
	f, _ := c.lookupFloat(key)
	return f
}

// FloatOK is Float that also reports whether a usable number was found.
func (c Context) FloatOK(key string) (float64, bool) {
	return c.lookupFloat(key)
}

func (c Context) lookupFloat(key string) (float64, bool) {
	var f float64
	switch v := c[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Clone returns a shallow copy of the context map.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
// #endregion context
