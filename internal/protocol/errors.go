package protocol

import (
	"errors"
	"fmt"
)

// Error codes form a closed set. Adapters map them onto exit codes and
// never invent new ones.
const (
	CodeNotInitialized = "NotInitialized"

	CodeSpecMalformed          = "SpecMalformed"
	CodeSpecInvariantViolation = "SpecInvariantViolation"
	CodeLockTimeout            = "LockTimeout"

	CodeRuntimeBusy    = "RuntimeBusy"
	CodeRuntimeCorrupt = "RuntimeCorrupt"

	CodeTaskNotFound       = "TaskNotFound"
	CodeTaskNotClaimable   = "TaskNotClaimable"
	CodeTaskAlreadyClaimed = "TaskAlreadyClaimed"
	CodeTaskLeaseNotHeld   = "TaskLeaseNotHeld"
	CodeTaskStateConflict  = "TaskStateConflict"

	CodeAgentNotRegistered = "AgentNotRegistered"
	CodeAgentAlreadyExists = "AgentAlreadyExists"

	CodeMessageTooLarge         = "MessageTooLarge"
	CodeMessageRecipientInvalid = "MessageRecipientInvalid"

	CodeInvalidInput = "InvalidInput"

	// CodeUnknown is the catch-all for errors that escaped without a
	// classification; adapters exit 1 on it.
	CodeUnknown = "Unknown"
)

// Invariant kinds carried in SpecInvariantViolation details.
const (
	InvariantCycle       = "cycle"
	InvariantMissingDep  = "missing_dep"
	InvariantDuplicateID = "duplicate_id"
	InvariantBadStatus   = "bad_status"
)

// Error is the engine's domain error. Details carries structured
// context (conflicting lease, offending field, cycle path) that agents
// act on programmatically.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a coded error without details.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches one detail entry and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Invalid builds an InvalidInput error with the offending field.
func Invalid(field, reason string) *Error {
	return &Error{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]any{"field": field, "reason": reason},
	}
}

// InvariantViolation builds a SpecInvariantViolation with its kind.
func InvariantViolation(kind, format string, args ...any) *Error {
	return &Error{
		Code:    CodeSpecInvariantViolation,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"kind": kind},
	}
}

// AsError classifies err into the closed set. Coded errors pass
// through; everything else becomes Unknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return &Error{Code: CodeUnknown, Message: err.Error()}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var coded *Error
	return errors.As(err, &coded) && coded.Code == code
}

// ExitCode maps an envelope onto the CLI contract: 0 ok, 2 validation,
// 3 runtime, 1 unknown.
func (e *Envelope) ExitCode() int {
	if e.OK {
		return 0
	}
	if e.Error == nil {
		return 1
	}
	switch e.Error.Code {
	case CodeLockTimeout, CodeRuntimeBusy, CodeRuntimeCorrupt:
		return 3
	case CodeUnknown:
		return 1
	default:
		return 2
	}
}
