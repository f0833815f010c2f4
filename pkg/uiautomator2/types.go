// Package uiautomator2 is an HTTP client for the automation server.
package uiautomator2

import (
	"encoding/json"
	"fmt"

	"github.com/devicelab-dev/uia2-server/pkg/core"
)

// Response is the server envelope.
type Response struct {
	SessionID string          `json:"sessionId"`
	Status    core.Status     `json:"status"`
	Value     json.RawMessage `json:"value"`
}

// ErrorValue is the value of a failed command.
type ErrorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error is a command failure reported by the server.
type Error struct {
	Status     core.Status
	HTTPStatus int
	Name       string // W3C error name
	Message    string
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ServerStatus is the value of the status command.
type ServerStatus struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
	Build   struct {
		Version string `json:"version"`
	} `json:"build"`
}

// Capabilities for session creation.
type Capabilities map[string]interface{}

// W3CCapabilities wraps capabilities in the W3C shape.
type W3CCapabilities struct {
	AlwaysMatch Capabilities   `json:"alwaysMatch,omitempty"`
	FirstMatch  []Capabilities `json:"firstMatch,omitempty"`
}

// SessionRequest for creating a session.
type SessionRequest struct {
	Capabilities W3CCapabilities `json:"capabilities"`
}

// FindElementRequest for finding elements.
type FindElementRequest struct {
	Strategy string `json:"strategy"`
	Selector string `json:"selector"`
	Context  string `json:"context,omitempty"`
}

// ElementRect is the value of the rect command.
type ElementRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SettingsRequest for updating settings.
type SettingsRequest struct {
	Settings map[string]interface{} `json:"settings"`
}

// Locator strategies.
const (
	StrategyID              = "id"
	StrategyAccessibilityID = "accessibility id"
	StrategyXPath           = "xpath"
	StrategyClassName       = "class name"
	StrategyUIAutomator     = "-android uiautomator"
)
