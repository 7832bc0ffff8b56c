package mode

import (
	"context"
	"errors"
)

// Transition failures. Callers match with errors.Is; the message of the
// wrapping error carries the detail.
var (
	ErrUnsupportedProfile = errors.New("unsupported FIPS profile")
	ErrAlreadyActive      = errors.New("profile already active")
	ErrAlreadyDisabled    = errors.New("FIPS mode already disabled")
	ErrRestartFailed      = errors.New("module config service restart failed")
	ErrArtifactMissing    = errors.New("module artifact not found after wait")
	ErrCancelled          = errors.New("transition cancelled")
	ErrIO                 = errors.New("file operation failed")
	ErrInconsistent       = errors.New("transition left inconsistent state")
	ErrBusy               = errors.New("another transition is in progress")
)

// Error classes recorded in the journal and reported over IPC.
const (
	ClassValidation  = "validation"
	ClassDependency  = "dependency"
	ClassTiming      = "timing"
	ClassIO          = "io"
	ClassConsistency = "consistency"
	ClassBusy        = "busy"
	ClassCancelled   = "cancelled"
	ClassInternal    = "internal"
)

// Classify maps a transition error to its class. A nil error has no class.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedProfile),
		errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrAlreadyDisabled):
		return ClassValidation
	case errors.Is(err, ErrBusy):
		return ClassBusy
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrRestartFailed):
		return ClassDependency
	case errors.Is(err, ErrArtifactMissing), errors.Is(err, context.DeadlineExceeded):
		return ClassTiming
	case errors.Is(err, ErrInconsistent):
		return ClassConsistency
	case errors.Is(err, ErrIO):
		return ClassIO
	default:
		return ClassInternal
	}
}
