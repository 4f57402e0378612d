package softdelete

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotDeleted is returned when undeleting a record that is live.
	ErrNotDeleted = errors.New("softdelete: record is not deleted")

	// ErrNotSoftDeletable is returned when a type cannot take part in soft deletion,
	// either at setup time or when an engine is handed a type that was never enabled.
	ErrNotSoftDeletable = errors.New("softdelete: type does not support soft deletion")

	// ErrMixedTables is returned when a bulk call receives records of several tables.
	ErrMixedTables = errors.New("softdelete: records belong to different tables")

	// ErrRecordNotFound is returned by stores when a saved record has no row.
	ErrRecordNotFound = errors.New("softdelete: record not found")
)

// AbortError is the signal a before hook returns to stop a transition.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return "softdelete: aborted by hook"
	}
	return "softdelete: aborted by hook: " + e.Reason
}

// Abort returns an error that stops the hook chain and rolls the transition back.
func Abort(reason string) error {
	return &AbortError{Reason: reason}
}

// IsAbort reports whether err carries a hook abort.
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}

// HookFailedError is returned by the raising API when a before hook aborted.
type HookFailedError struct {
	Hook     string
	Messages []string
	Err      error
}

func (e *HookFailedError) Error() string {
	messages := "None"
	if len(e.Messages) > 0 {
		messages = strings.Join(e.Messages, ", ")
	}
	return fmt.Sprintf("%s hook failed, errors: %s", e.Hook, messages)
}

func (e *HookFailedError) Unwrap() error { return e.Err }

// ValidationError is returned by a store's Save when the record is invalid.
type ValidationError struct {
	Table    string
	ID       string
	Messages []string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s %s: %s", e.Table, e.ID, strings.Join(e.Messages, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation failure raised by a store.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
