package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerAlreadyExists = errors.New("container already exists")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Unit    string // Unit the operation was for, if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Unit, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, unit, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Unit:    unit,
		Message: message,
		Err:     err,
	}
}
