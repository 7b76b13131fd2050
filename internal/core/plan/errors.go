// Package plan contains pure functions for parsing Compose specifications
// into orchestration plans. No I/O, no side effects.
package plan

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("plan spec is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoUnits = errors.New("plan must define at least one service")

	// Unit validation errors
	ErrUnitNoImage        = errors.New("service must have an image")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrUnknownCondition   = errors.New("unknown depends_on condition")
	ErrUnsupportedFeature = errors.New("unsupported compose feature")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.depends_on.db"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
