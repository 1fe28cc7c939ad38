package protocol

import (
	"math"
	"strings"
)

// Params is a decoded params object. Backend payloads mix camelCase and
// snake_case naming; accessors accept alias lists so callers stay flat.
type Params map[string]any

// Str returns the first non-empty string value among the given keys.
func (p Params) Str(keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// Int returns the first numeric value among the given keys, with ok=false
// when no key holds a finite number.
func (p Params) Int(keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				continue
			}
			return int(n), true
		case int:
			return n, true
		case int64:
			return int(n), true
		}
	}
	return 0, false
}

// Int64 is Int with int64 range preserved (request ids).
func (p Params) Int64(keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				continue
			}
			return int64(n), true
		case int64:
			return n, true
		case int:
			return int64(n), true
		}
	}
	return 0, false
}

// Bool returns the first boolean value among the given keys.
func (p Params) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			if b, ok := v.(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}

// Map returns the first object value among the given keys, or nil.
func (p Params) Map(keys ...string) Params {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			if m, ok := v.(map[string]any); ok {
				return Params(m)
			}
		}
	}
	return nil
}

// ThreadID extracts the thread identifier under either naming convention.
func (p Params) ThreadID() string {
	return p.Str("threadId", "thread_id")
}

// TurnID extracts the turn identifier: explicit field first, then the
// nested turn object.
func (p Params) TurnID() string {
	if id := p.Str("turnId", "turn_id"); id != "" {
		return id
	}
	if turn := p.Map("turn"); turn != nil {
		return turn.Str("id")
	}
	return ""
}

// TurnStatus extracts the nested turn status string, if present.
func (p Params) TurnStatus() string {
	if turn := p.Map("turn"); turn != nil {
		return turn.Str("status")
	}
	return ""
}

// Item returns the raw thread item payload, or nil.
func (p Params) Item() map[string]any {
	if m := p.Map("item"); m != nil {
		return map[string]any(m)
	}
	return nil
}
