package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseAge parses a duration that also accepts a day suffix, e.g. "30d" or
// "1d12h". The result must be positive.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: "age", Value: s, Constraint: "required", Message: "age is required"}
	}

	var total time.Duration
	rest := s
	if i := strings.IndexByte(rest, 'd'); i >= 0 {
		days, err := strconv.Atoi(rest[:i])
		if err != nil || days < 0 {
			return 0, &ValidationError{Field: "age", Value: s, Constraint: "duration", Message: "invalid day count"}
		}
		total = time.Duration(days) * 24 * time.Hour
		rest = rest[i+1:]
	}
	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, &ValidationError{Field: "age", Value: s, Constraint: "duration", Message: err.Error()}
		}
		total += d
	}
	if total <= 0 {
		return 0, &ValidationError{Field: "age", Value: s, Constraint: "> 0", Message: fmt.Sprintf("age must be positive, got %s", total)}
	}
	return total, nil
}
