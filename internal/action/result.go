// Package action dispatches typed side-effectful operations through the
// policy gate, records full history, and classifies failures. Handlers are
// registered once at startup in a static table.
package action

import (
	"fmt"
	"time"
)

// Statuses. Exactly one terminal status per result.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Result is the record of one executed action.
type Result struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Status           string         `json:"status"`
	Output           string         `json:"output,omitempty"`
	Error            string         `json:"error,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      time.Time      `json:"completed_at"`
	DurationMs       int64          `json:"duration_ms"`
	PolicyBlocked    bool           `json:"policy_blocked,omitempty"`
	ObjectiveSuccess *bool          `json:"objective_success,omitempty"`
}

// Terminal reports whether the result reached a final status.
func (r *Result) Terminal() bool {
	switch r.Status {
	case StatusSuccess, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Output is what a handler returns on the success path.
type Output struct {
	Text string
	Data map[string]any
	// Objective is the action-specific post-check: nil means the handler
	// has no objective probe for this action.
	Objective *bool
}

func objective(ok bool) *bool { return &ok }

// Params is the raw parameter map with typed accessors.
type Params map[string]any

// String returns the string parameter at key, or "".
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// StringRequired errors when key is missing or empty.
func (p Params) StringRequired(key string) (string, error) {
	s := p.String(key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return s, nil
}

// Int returns the integer parameter at key, tolerating float64 from JSON.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the float parameter at key.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Bool returns the boolean parameter at key.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// StringSlice returns a list parameter (script args, tags).
func (p Params) StringSlice(key string) []string {
	switch v := p[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringMap returns a nested string map (http headers and the like).
func (p Params) StringMap(key string) map[string]string {
	out := map[string]string{}
	switch m := p[key].(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}
