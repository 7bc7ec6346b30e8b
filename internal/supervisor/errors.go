package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotInitialized is returned when tasks are started before a mode
// has been initialized.
var ErrNotInitialized = errors.New("mode not initialized")

// ErrUnrecoverable matches a [TransitionError] after every recovery
// stage failed.
var ErrUnrecoverable = errors.New("unable to recover mode")

// ConfigurationError reports a mode name missing from the registry.
type ConfigurationError struct {
	Mode string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mode %q is not defined", e.Mode)
}

// Recovery stage names used in [StageError].
const (
	StageRollback  = "rollback"
	StageEmergency = "emergency_default"
)

// StageError records why one recovery stage failed.
type StageError struct {
	Stage string
	Mode  string
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s to %s: %v", e.Stage, e.Mode, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

// TransitionError describes a failed transition from From to To. Cause
// is the failure that started recovery; Stages lists the recovery
// stages that were attempted and failed. Terminal is set when no stage
// succeeded, in which case the error matches [ErrUnrecoverable].
type TransitionError struct {
	From     string
	To       string
	Cause    error
	Stages   []StageError
	Terminal bool
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transition %s -> %s: %v", e.From, e.To, e.Cause)
	for _, s := range e.Stages {
		b.WriteString("; ")
		b.WriteString(s.Error())
	}
	if e.Terminal {
		b.WriteString("; ")
		b.WriteString(ErrUnrecoverable.Error())
	}
	return b.String()
}

// Unwrap exposes the cause, each stage failure and, for terminal
// failures, [ErrUnrecoverable] to errors.Is and errors.As.
func (e *TransitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Stages)+2)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, s := range e.Stages {
		errs = append(errs, s)
	}
	if e.Terminal {
		errs = append(errs, ErrUnrecoverable)
	}
	return errs
}
