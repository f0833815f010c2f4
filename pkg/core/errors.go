package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The dispatcher maps kinds to wire statuses.
type Kind int

const (
	KindUnknown Kind = iota // Unclassified; handled by the catch-all path
	KindInvalidSelector
	KindElementNotFound
	KindUnparseableSelector
	KindScreenshotOutOfBounds
	KindInvalidElementState
	KindNoAlertOpen
	KindNoSuchAttribute
	KindInvalidCoordinates
	KindNoSuchContext
	KindStaleElement
	KindUnsupportedOperation
	KindJSONDecode
	KindActionsParse
	KindMissingDependency
	KindNoSession
	KindSessionRemoved
	KindSessionNotCreated
	KindUnsupportedSetting
	KindInvalidArgument
	KindTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindInvalidSelector:       "invalid_selector",
	KindElementNotFound:       "element_not_found",
	KindUnparseableSelector:   "unparseable_selector",
	KindScreenshotOutOfBounds: "screenshot_out_of_bounds",
	KindInvalidElementState:   "invalid_element_state",
	KindNoAlertOpen:           "no_alert_open",
	KindNoSuchAttribute:       "no_such_attribute",
	KindInvalidCoordinates:    "invalid_coordinates",
	KindNoSuchContext:         "no_such_context",
	KindStaleElement:          "stale_element",
	KindUnsupportedOperation:  "unsupported_operation",
	KindJSONDecode:            "json_decode",
	KindActionsParse:          "actions_parse",
	KindMissingDependency:     "missing_dependency",
	KindNoSession:             "no_session",
	KindSessionRemoved:        "session_removed",
	KindSessionNotCreated:     "session_not_created",
	KindUnsupportedSetting:    "unsupported_setting",
	KindInvalidArgument:       "invalid_argument",
	KindTimeout:               "timeout",
}

// String returns the machine-readable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a structured domain failure.
type Error struct {
	Kind    Kind
	Message string                 // Human-readable message
	Details map[string]interface{} // Additional context
	Cause   error                  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so predefined values work as sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause returns a copy of the error with the given cause
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Kind:    e.Kind,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Kind:    e.Kind,
		Message: msg,
		Details: e.Details,
		Cause:   e.Cause,
	}
}

// WithMessagef is WithMessage with fmt.Sprintf formatting.
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{
		Kind:    e.Kind,
		Message: e.Message,
		Details: merged,
		Cause:   e.Cause,
	}
}

// Predefined errors
var (
	// Element lookup
	ErrElementNotFound = &Error{
		Kind:    KindElementNotFound,
		Message: "element not found",
	}
	ErrStaleElement = &Error{
		Kind:    KindStaleElement,
		Message: "the element does not exist in the tree anymore",
	}
	ErrInvalidSelector = &Error{
		Kind:    KindInvalidSelector,
		Message: "invalid selector",
	}
	ErrUnparseableSelector = &Error{
		Kind:    KindUnparseableSelector,
		Message: "unable to parse selector",
	}
	ErrNoSuchAttribute = &Error{
		Kind:    KindNoSuchAttribute,
		Message: "no such element attribute",
	}

	// Element interaction
	ErrScreenshotOutOfBounds = &Error{
		Kind:    KindScreenshotOutOfBounds,
		Message: "screenshot region is outside of the element bounds",
	}
	ErrInvalidElementState = &Error{
		Kind:    KindInvalidElementState,
		Message: "element is not in an interactable state",
	}
	ErrInvalidCoordinates = &Error{
		Kind:    KindInvalidCoordinates,
		Message: "invalid element coordinates",
	}
	ErrNoAlertOpen = &Error{
		Kind:    KindNoAlertOpen,
		Message: "no alert is open",
	}
	ErrNoSuchContext = &Error{
		Kind:    KindNoSuchContext,
		Message: "no such context",
	}
	ErrUnsupportedOperation = &Error{
		Kind:    KindUnsupportedOperation,
		Message: "operation is not supported",
	}
	ErrTimeout = &Error{
		Kind:    KindTimeout,
		Message: "operation timed out",
	}

	// Payload
	ErrJSONDecode = &Error{
		Kind:    KindJSONDecode,
		Message: "unable to decode request payload",
	}
	ErrActionsParse = &Error{
		Kind:    KindActionsParse,
		Message: "invalid actions chain",
	}
	ErrInvalidArgument = &Error{
		Kind:    KindInvalidArgument,
		Message: "invalid argument",
	}
	ErrUnsupportedSetting = &Error{
		Kind:    KindUnsupportedSetting,
		Message: "unsupported setting",
	}
	ErrMissingDependency = &Error{
		Kind:    KindMissingDependency,
		Message: "required runtime dependency is missing",
	}

	// Session
	ErrNoSession = &Error{
		Kind:    KindNoSession,
		Message: "a session is either terminated or not started",
	}
	ErrSessionRemoved = &Error{
		Kind:    KindSessionRemoved,
		Message: "delete session has been invoked",
	}
	ErrSessionNotCreated = &Error{
		Kind:    KindSessionNotCreated,
		Message: "a new session could not be created",
	}
)

// NewError creates a new Error with the given kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
