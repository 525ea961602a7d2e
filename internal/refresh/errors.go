package refresh

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when a run was canceled before every kind completed
var ErrInterrupted = errors.New("refresh interrupted")

// ConfigurationError is a missing dependency or credential detected before any work starts
type ConfigurationError struct {
	Kind   Kind
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Kind, e.Reason)
}
