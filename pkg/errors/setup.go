// Package errors holds the error type that aborts a run before probing.
package errors

import (
	"errors"
	"fmt"
	"io/fs"
)

// Stages at which a run can fail to start.
const (
	StageConfig  = "config"
	StageLogging = "logging"
	StageInput   = "input"
	StageMetrics = "metrics"
	StageHistory = "history"
	StageArchive = "archive"
	StageReport  = "report"
)

// SetupError is fatal: the process exits non-zero without probing (or, for
// the report stage, after probing but without a report).
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	if e.Stage == StageInput && errors.Is(e.Err, fs.ErrNotExist) {
		return fmt.Sprintf("%s: file not found: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// NewSetupError wraps err for stage. A nil err yields nil.
func NewSetupError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &SetupError{Stage: stage, Err: err}
}

// StageOf reports the stage of the first SetupError in err's chain, or ""
// when err did not come from setup.
func StageOf(err error) string {
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return setupErr.Stage
	}
	return ""
}
