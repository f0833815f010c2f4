package uiautomator2

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devicelab-dev/uia2-server/pkg/core"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClientURL(server.URL)
	client.http = server.Client()
	return client, server
}

// newErrorTestClient creates a client that will fail on any request.
func newErrorTestClient() *Client {
	client := NewClientURL("http://localhost:99999") // Invalid port
	client.sessionID = "test"
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func TestStatus(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("expected /status, got %s", r.URL.Path)
		}
		if r.Method != "GET" {
			t.Errorf("expected GET, got %s", r.Method)
		}
		writeJSON(t, w, map[string]interface{}{
			"status": 0,
			"value": map[string]interface{}{
				"ready":   true,
				"message": "ready",
				"build":   map[string]interface{}{"version": "1.2.3"},
			},
		})
	})
	defer server.Close()

	st, err := client.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Ready || st.Build.Version != "1.2.3" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestCreateSession(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" || r.Method != "POST" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Capabilities.AlwaysMatch["platformName"] != "Android" {
			t.Errorf("expected Android, got %v", req.Capabilities.AlwaysMatch)
		}
		writeJSON(t, w, map[string]interface{}{
			"sessionId": "test-session-123",
			"status":    0,
			"value":     map[string]interface{}{"sessionId": "test-session-123"},
		})
	})
	defer server.Close()

	if err := client.CreateSession(Capabilities{"platformName": "Android"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.SessionID() != "test-session-123" {
		t.Errorf("expected test-session-123, got %s", client.SessionID())
	}
	if !client.HasSession() {
		t.Error("expected HasSession to be true")
	}
}

func TestCreateSessionNoSessionID(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"status": 0, "value": map[string]interface{}{}})
	})
	defer server.Close()

	if err := client.CreateSession(Capabilities{}); err == nil {
		t.Error("expected error for missing session ID")
	}
}

func TestRequestError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]interface{}{
			"sessionId": "test",
			"status":    7,
			"value": map[string]interface{}{
				"error":   "no such element",
				"message": "An element could not be located",
			},
		})
	})
	defer server.Close()
	client.sessionID = "test"

	_, err := client.FindElement(StrategyID, "missing")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if e.Status != core.StatusNoSuchElement || e.HTTPStatus != http.StatusNotFound || e.Name != "no such element" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestRequestErrorStatusOnly(t *testing.T) {
	// Failure signalled only by the envelope status.
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"status": 13, "value": "boom"})
	})
	defer server.Close()

	_, err := client.Status()
	var e *Error
	if !errors.As(err, &e) || e.Status != core.StatusUnknownError {
		t.Errorf("expected unknown error, got %v", err)
	}
}

func TestRequestErrorNonJSON(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		if _, err := w.Write([]byte("Internal Server Error")); err != nil {
			return
		}
	})
	defer server.Close()

	if _, err := client.Status(); err == nil {
		t.Error("expected error")
	}
}

func TestRequestConnectionError(t *testing.T) {
	client := newErrorTestClient()
	if _, err := client.Status(); err == nil {
		t.Error("expected connection error")
	}
}

func TestRequestMarshalError(t *testing.T) {
	client := newErrorTestClient()
	if _, err := client.request("POST", "/x", map[string]interface{}{"bad": make(chan int)}); err == nil {
		t.Error("expected marshal error")
	}
}

func TestNoSessionGuards(t *testing.T) {
	client := NewClientURL("http://mock")
	tests := []struct {
		name string
		call func() error
	}{
		{"GetSession", func() error { _, err := client.GetSession(); return err }},
		{"GetSettings", func() error { _, err := client.GetSettings(); return err }},
		{"UpdateSettings", func() error { return client.UpdateSettings(map[string]interface{}{}) }},
		{"FindElement", func() error { _, err := client.FindElement(StrategyID, "x"); return err }},
		{"FindElements", func() error { _, err := client.FindElements(StrategyID, "x"); return err }},
		{"Tap", func() error { return client.Tap(1, 1) }},
	}
	for _, tt := range tests {
		if err := tt.call(); err == nil {
			t.Errorf("%s: expected error without a session", tt.name)
		}
	}
	if err := client.DeleteSession(); err != nil {
		t.Errorf("DeleteSession without session: %v", err)
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient("127.0.0.1", 6790)
	if client.baseURL != "http://127.0.0.1:6790" {
		t.Errorf("expected http://127.0.0.1:6790, got %s", client.baseURL)
	}
	if client.http == nil {
		t.Error("expected http client to be set")
	}
	if got := NewClient("::1", 6790).baseURL; got != "http://[::1]:6790" {
		t.Errorf("IPv6 base URL = %s", got)
	}
}

func TestTapRequest(t *testing.T) {
	var body struct {
		Actions []struct {
			Type       string `json:"type"`
			ID         string `json:"id"`
			Parameters struct {
				PointerType string `json:"pointerType"`
			} `json:"parameters"`
			Actions []map[string]interface{} `json:"actions"`
		} `json:"actions"`
	}
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/actions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(t, w, map[string]interface{}{"sessionId": "s1", "status": 0})
	})
	defer server.Close()
	client.sessionID = "s1"

	if err := client.Tap(100, 200); err != nil {
		t.Fatalf("Tap() error: %v", err)
	}
	if len(body.Actions) != 1 {
		t.Fatalf("expected 1 source, got %d", len(body.Actions))
	}
	src := body.Actions[0]
	if src.Type != "pointer" || src.ID != "finger1" || src.Parameters.PointerType != "touch" {
		t.Errorf("unexpected source %+v", src)
	}
	if len(src.Actions) != 3 || src.Actions[0]["x"] != float64(100) || src.Actions[0]["y"] != float64(200) {
		t.Errorf("unexpected ticks %v", src.Actions)
	}
}
