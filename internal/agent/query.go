package agent

import (
	"fmt"
	"strings"
)

// Query length bounds, counted in characters after trimming.
const (
	MinQueryLen = 5
	MaxQueryLen = 500
)

// Query is a single end-user fee question.
type Query struct {
	RawQuery     string `json:"raw_query"`
	UserID       string `json:"user_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

// ValidationError reports a malformed query before any pipeline stage runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

// Validate checks query shape. Shape failures are caller errors, not
// refusals: they carry no reason code and are never audited.
func (q *Query) Validate() error {
	trimmed := strings.TrimSpace(q.RawQuery)
	if n := len([]rune(trimmed)); n < MinQueryLen || n > MaxQueryLen {
		return &ValidationError{
			Field:  "raw_query",
			Reason: fmt.Sprintf("length must be between %d and %d characters (got %d)", MinQueryLen, MaxQueryLen, n),
		}
	}
	if q.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	return nil
}
