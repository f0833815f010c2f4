package core

import "net/http"

// Status is a WebDriver (JSON wire protocol) response status code.
// The numeric values are a wire contract shared with existing clients.
type Status int

const (
	StatusSuccess                   Status = 0
	StatusNoSuchDriver              Status = 6
	StatusNoSuchElement             Status = 7
	StatusNoSuchFrame               Status = 8
	StatusUnknownCommand            Status = 9
	StatusStaleElementReference     Status = 10
	StatusElementNotVisible         Status = 11
	StatusInvalidElementState       Status = 12
	StatusUnknownError              Status = 13
	StatusElementIsNotSelectable    Status = 15
	StatusJavaScriptError           Status = 17
	StatusXPathLookupError          Status = 19
	StatusTimeout                   Status = 21
	StatusNoSuchWindow              Status = 23
	StatusInvalidCookieDomain       Status = 24
	StatusUnableToSetCookie         Status = 25
	StatusUnexpectedAlertOpen       Status = 26
	StatusNoAlertOpen               Status = 27
	StatusScriptTimeout             Status = 28
	StatusInvalidElementCoordinates Status = 29
	StatusIMENotAvailable           Status = 30
	StatusIMEEngineActivationFailed Status = 31
	StatusInvalidSelector           Status = 32
	StatusSessionNotCreated         Status = 33
	StatusMoveTargetOutOfBounds     Status = 34
	StatusJSONDecoderError          Status = 35
)

type statusInfo struct {
	label string // human readable summary
	name  string // W3C error name
	http  int
}

var statuses = map[Status]statusInfo{
	StatusSuccess:                   {"The command executed successfully.", "", http.StatusOK},
	StatusNoSuchDriver:              {"A session is either terminated or not started", "invalid session id", http.StatusNotFound},
	StatusNoSuchElement:             {"An element could not be located on the page using the given search parameters.", "no such element", http.StatusNotFound},
	StatusNoSuchFrame:               {"A request to switch to a frame could not be satisfied because the frame could not be found.", "no such frame", http.StatusNotFound},
	StatusUnknownCommand:            {"The requested resource could not be found, or a request was received using an HTTP method that is not supported by the mapped resource.", "unknown command", http.StatusNotFound},
	StatusStaleElementReference:     {"An element command failed because the referenced element is no longer attached to the DOM.", "stale element reference", http.StatusNotFound},
	StatusElementNotVisible:         {"An element command could not be completed because the element is not visible on the page.", "element not visible", http.StatusBadRequest},
	StatusInvalidElementState:       {"An element command could not be completed because the element is in an invalid state (e.g. attempting to click a disabled element).", "invalid element state", http.StatusBadRequest},
	StatusUnknownError:              {"An unknown server-side error occurred while processing the command.", "unknown error", http.StatusInternalServerError},
	StatusElementIsNotSelectable:    {"An attempt was made to select an element that cannot be selected.", "element not selectable", http.StatusBadRequest},
	StatusJavaScriptError:           {"An error occurred while executing user supplied JavaScript.", "javascript error", http.StatusInternalServerError},
	StatusXPathLookupError:          {"An error occurred while searching for an element by XPath.", "invalid selector", http.StatusBadRequest},
	StatusTimeout:                   {"An operation did not complete before its timeout expired.", "timeout", http.StatusRequestTimeout},
	StatusNoSuchWindow:              {"A request to switch to a different window could not be satisfied because the window could not be found.", "no such window", http.StatusNotFound},
	StatusInvalidCookieDomain:       {"An illegal attempt was made to set a cookie under a different domain than the current page.", "invalid cookie domain", http.StatusBadRequest},
	StatusUnableToSetCookie:         {"A request to set a cookie's value could not be satisfied.", "unable to set cookie", http.StatusInternalServerError},
	StatusUnexpectedAlertOpen:       {"A modal dialog was open, blocking this operation", "unexpected alert open", http.StatusInternalServerError},
	StatusNoAlertOpen:               {"An attempt was made to operate on a modal dialog when one was not open.", "no such alert", http.StatusNotFound},
	StatusScriptTimeout:             {"A script did not complete before its timeout expired.", "script timeout", http.StatusRequestTimeout},
	StatusInvalidElementCoordinates: {"The coordinates provided to an interactions operation are invalid.", "invalid coordinates", http.StatusBadRequest},
	StatusIMENotAvailable:           {"IME was not available.", "unsupported operation", http.StatusInternalServerError},
	StatusIMEEngineActivationFailed: {"An IME engine could not be started.", "unsupported operation", http.StatusInternalServerError},
	StatusInvalidSelector:           {"Argument was an invalid selector (e.g. XPath/CSS).", "invalid selector", http.StatusBadRequest},
	StatusSessionNotCreated:         {"A new session could not be created.", "session not created", http.StatusInternalServerError},
	StatusMoveTargetOutOfBounds:     {"Target provided for a move action is out of bounds.", "move target out of bounds", http.StatusInternalServerError},
	StatusJSONDecoderError:          {"Unable to decode the request payload.", "invalid argument", http.StatusBadRequest},
}

// String returns the human readable label of the status.
func (s Status) String() string {
	if info, ok := statuses[s]; ok {
		return info.label
	}
	return "unknown status"
}

// ErrorName returns the W3C error identifier for a failure status.
// Success and unknown codes both map to "unknown error" when non-zero.
func (s Status) ErrorName() string {
	if info, ok := statuses[s]; ok && info.name != "" {
		return info.name
	}
	if s == StatusSuccess {
		return ""
	}
	return "unknown error"
}

// HTTPStatus returns the HTTP response code used when rendering s.
func (s Status) HTTPStatus() int {
	if info, ok := statuses[s]; ok {
		return info.http
	}
	return http.StatusInternalServerError
}

// IsSuccess returns true for StatusSuccess.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// Known reports whether s belongs to the vocabulary.
func (s Status) Known() bool {
	_, ok := statuses[s]
	return ok
}
