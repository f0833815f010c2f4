// Package commands implements the logic behind every server endpoint. Each
// command returns a JSON-ready value or a *core.Error; translating errors
// into statuses is left to the dispatcher.
package commands

import (
	"encoding/json"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/session"
)

// StatusMessage is reported by the status command.
const StatusMessage = "UiAutomator2 Server is ready to accept commands"

// Env is the state shared by all commands.
type Env struct {
	Sessions *session.Registry
	Injector Injector
	Version  string

	// OnSessionDeleted runs after a session has been deleted. The server
	// uses it to shut the listener down.
	OnSessionDeleted func()
}

// decode unmarshals a request body. An empty body decodes to the zero value.
func decode(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return core.ErrJSONDecode.WithMessagef("unable to parse request payload: %v", err).WithCause(err)
	}
	return nil
}

// Status reports server readiness.
func (e *Env) Status() (interface{}, error) {
	return map[string]interface{}{
		"ready":   true,
		"message": StatusMessage,
		"build": map[string]interface{}{
			"version": e.Version,
		},
	}, nil
}

type sessionRequest struct {
	Capabilities        json.RawMessage        `json:"capabilities"`
	DesiredCapabilities map[string]interface{} `json:"desiredCapabilities"`
}

type w3cCapabilities struct {
	AlwaysMatch map[string]interface{}   `json:"alwaysMatch"`
	FirstMatch  []map[string]interface{} `json:"firstMatch"`
}

// capabilities merges the accepted capability formats into one map:
// W3C alwaysMatch plus the first firstMatch entry, a flat capabilities
// object, or legacy desiredCapabilities.
func capabilities(req sessionRequest) (map[string]interface{}, error) {
	caps := map[string]interface{}{}
	for k, v := range req.DesiredCapabilities {
		caps[k] = v
	}
	if len(req.Capabilities) == 0 || string(req.Capabilities) == "null" {
		return caps, nil
	}

	var w3c w3cCapabilities
	if err := json.Unmarshal(req.Capabilities, &w3c); err != nil {
		return nil, core.ErrJSONDecode.WithMessagef("invalid capabilities: %v", err).WithCause(err)
	}
	if w3c.AlwaysMatch == nil && w3c.FirstMatch == nil {
		var flat map[string]interface{}
		if err := json.Unmarshal(req.Capabilities, &flat); err != nil {
			return nil, core.ErrJSONDecode.WithMessagef("invalid capabilities: %v", err).WithCause(err)
		}
		for k, v := range flat {
			caps[k] = v
		}
		return caps, nil
	}
	for k, v := range w3c.AlwaysMatch {
		caps[k] = v
	}
	if len(w3c.FirstMatch) > 0 {
		for k, v := range w3c.FirstMatch[0] {
			if _, dup := caps[k]; dup {
				return nil, core.ErrSessionNotCreated.WithMessagef("capability '%s' is set in both alwaysMatch and firstMatch", k)
			}
			caps[k] = v
		}
	}
	return caps, nil
}

// CreateSession starts a session and returns it with its response value.
func (e *Env) CreateSession(body []byte) (*session.Session, interface{}, error) {
	var req sessionRequest
	if err := decode(body, &req); err != nil {
		return nil, nil, err
	}
	caps, err := capabilities(req)
	if err != nil {
		return nil, nil, err
	}
	s, err := e.Sessions.Create(caps)
	if err != nil {
		return nil, nil, err
	}
	return s, map[string]interface{}{
		"sessionId":    s.ID,
		"capabilities": s.Capabilities,
	}, nil
}

// GetSession returns the capabilities of a session.
func (e *Env) GetSession(id string) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Capabilities, nil
}

// ListSessions returns all active sessions.
func (e *Env) ListSessions() (interface{}, error) {
	out := []map[string]interface{}{}
	for _, s := range e.Sessions.List() {
		out = append(out, map[string]interface{}{
			"id":           s.ID,
			"capabilities": s.Capabilities,
		})
	}
	return out, nil
}

// DeleteSession ends a session.
func (e *Env) DeleteSession(id string) (interface{}, error) {
	if err := e.Sessions.Delete(id); err != nil {
		return nil, err
	}
	if e.OnSessionDeleted != nil {
		e.OnSessionDeleted()
	}
	return nil, nil
}

// GetSettings returns the settings of a session.
func (e *Env) GetSettings(id string) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Settings.Values(), nil
}

// UpdateSettings applies {"settings": {...}} to a session.
func (e *Env) UpdateSettings(id string, body []byte) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	var req struct {
		Settings map[string]interface{} `json:"settings"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.Settings == nil {
		return nil, core.ErrInvalidArgument.WithMessage("'settings' must be an object")
	}
	if err := s.Settings.Update(req.Settings); err != nil {
		return nil, err
	}
	return nil, nil
}
