package batch

import "fmt"

// ErrKind is the validation-error taxonomy exposed at the API boundary
// (§7: "validation errors, client's fault; surfaced to caller, no retry").
type ErrKind string

const (
	ErrInvalidDuration ErrKind = "InvalidDuration"
	ErrBatchClosed     ErrKind = "BatchClosed"
	ErrBatchFull       ErrKind = "BatchFull"
	ErrInvalidEnvelope ErrKind = "InvalidEnvelope"
	ErrDuplicateID     ErrKind = "DuplicateId"
	ErrNotFound        ErrKind = "NotFound"
	ErrNotOwner        ErrKind = "NotOwner"
	ErrWrongPhase      ErrKind = "WrongPhase"
	ErrAlreadyClosed   ErrKind = "AlreadyClosed"
	ErrNotClosed       ErrKind = "NotClosed"
	ErrInvalidState    ErrKind = "InvalidState"
)

// Error is the tagged error value every fallible batch operation returns
// instead of an ad-hoc error string, so callers can switch on Kind.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newErr(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
