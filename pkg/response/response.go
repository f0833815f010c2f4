// Package response renders the JSON envelope returned for every command.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
)

// Envelope is the wire response {sessionId, status, value}.
type Envelope struct {
	SessionID string      `json:"sessionId,omitempty"`
	Status    core.Status `json:"status"`
	Value     interface{} `json:"value,omitempty"`
}

// ErrorValue is the value of a failed command.
type ErrorValue struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// Success wraps a command result.
func Success(sessionID string, value interface{}) Envelope {
	return Envelope{SessionID: sessionID, Status: core.StatusSuccess, Value: value}
}

// Failure builds an error envelope for status.
func Failure(sessionID string, status core.Status, message, stacktrace string) Envelope {
	return Envelope{
		SessionID: sessionID,
		Status:    status,
		Value: ErrorValue{
			Error:      status.ErrorName(),
			Message:    message,
			Stacktrace: stacktrace,
		},
	}
}

// HTTPStatus is the HTTP code this envelope is sent with.
func (e Envelope) HTTPStatus() int {
	return e.Status.HTTPStatus()
}

// Write sends e as JSON.
func Write(w http.ResponseWriter, e Envelope) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to encode response for status %d: %v", e.Status, err)
		e = Failure(e.SessionID, core.StatusUnknownError, "unable to encode response: "+err.Error(), "")
		body, _ = json.Marshal(e)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatus())
	if _, err := w.Write(body); err != nil {
		logger.Debug("failed to write response: %v", err)
	}
}
