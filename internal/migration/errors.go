package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigFileMissing is returned when a document is absent and its type
	// cannot synthesise a default.
	ErrConfigFileMissing = errors.New("config file missing and no default can be synthesised")
	// ErrInvariantViolated is returned by a step whose precondition on store
	// or document state does not hold. No writes were made by that step.
	ErrInvariantViolated = errors.New("migration invariant violated")
	// ErrUnreachableVersion means the step table has no entry for a version
	// the engine was asked to migrate to.
	ErrUnreachableVersion = errors.New("unreachable migration version")
	// ErrNewerVersion means the document was written by newer software.
	ErrNewerVersion = errors.New("document version is newer than supported")
)

// StepError reports the version whose step failed.
type StepError struct {
	Version int
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration to version %d failed: %v", e.Version, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
