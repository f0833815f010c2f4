package uiautomator2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
)

// Client talks to a running automation server.
type Client struct {
	http      *http.Client
	baseURL   string
	sessionID string
}

// NewClient creates a client for the server listening on host:port.
func NewClient(host string, port int) *Client {
	return NewClientURL("http://" + net.JoinHostPort(host, strconv.Itoa(port)))
}

// NewClientURL creates a client for a server base URL.
func NewClientURL(baseURL string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

// SessionID returns the current session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// HasSession returns true if a session is active.
func (c *Client) HasSession() bool {
	return c.sessionID != ""
}

// request sends a command and returns the raw envelope value.
func (c *Client) request(method, path string, body interface{}) (json.RawMessage, error) {
	start := time.Now()

	var reqBody io.Reader
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Debug("%s %s [%v] ERROR: %v", method, path, elapsed, err)
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	logger.Debug("%s %s [%v] %d body=%s", method, path, elapsed, resp.StatusCode, bodyStr)

	var env Response
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if env.Status != core.StatusSuccess || resp.StatusCode >= 400 {
		e := &Error{Status: env.Status, HTTPStatus: resp.StatusCode}
		var v ErrorValue
		if json.Unmarshal(env.Value, &v) == nil {
			e.Name, e.Message = v.Error, v.Message
		}
		return nil, e
	}
	return env.Value, nil
}

// call is request followed by decoding the value into out (when not nil).
func (c *Client) call(method, path string, body, out interface{}) error {
	value, err := c.request(method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(value) == 0 {
		return nil
	}
	if err := json.Unmarshal(value, out); err != nil {
		return fmt.Errorf("parse %s %s response: %w", method, path, err)
	}
	return nil
}

// sessionPath returns path with session ID prefix.
func (c *Client) sessionPath(path string) string {
	return fmt.Sprintf("/session/%s%s", c.sessionID, path)
}

func (c *Client) requireSession() error {
	if c.sessionID == "" {
		return fmt.Errorf("no active session")
	}
	return nil
}

// Status checks if the server is ready.
func (c *Client) Status() (ServerStatus, error) {
	var st ServerStatus
	err := c.call("GET", "/status", nil, &st)
	return st, err
}

// CreateSession starts a new automation session.
func (c *Client) CreateSession(caps Capabilities) error {
	req := SessionRequest{Capabilities: W3CCapabilities{AlwaysMatch: caps}}

	var value struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.call("POST", "/session", req, &value); err != nil {
		return err
	}
	if value.SessionID == "" {
		return fmt.Errorf("no session ID in response")
	}
	c.sessionID = value.SessionID
	return nil
}

// GetSession returns the capabilities of the current session.
func (c *Client) GetSession() (map[string]interface{}, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var caps map[string]interface{}
	err := c.call("GET", c.sessionPath(""), nil, &caps)
	return caps, err
}

// ListSessions returns the ids of the sessions the server knows.
func (c *Client) ListSessions() ([]string, error) {
	var list []struct {
		ID string `json:"id"`
	}
	if err := c.call("GET", "/sessions", nil, &list); err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids, nil
}

// DeleteSession ends the current session. The server stops listening
// once the reply has been sent.
func (c *Client) DeleteSession() error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.request("DELETE", c.sessionPath(""), nil)
	c.sessionID = ""
	return err
}

// Close ends the session and cleans up.
func (c *Client) Close() error {
	return c.DeleteSession()
}

// GetSettings returns the settings of the current session.
func (c *Client) GetSettings() (map[string]interface{}, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var settings map[string]interface{}
	err := c.call("GET", c.sessionPath("/appium/settings"), nil, &settings)
	return settings, err
}

// UpdateSettings changes settings of the current session.
func (c *Client) UpdateSettings(settings map[string]interface{}) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.call("POST", c.sessionPath("/appium/settings"), SettingsRequest{Settings: settings}, nil)
}
