// Package server exposes the automation commands over HTTP.
package server

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devicelab-dev/uia2-server/pkg/commands"
	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/dispatch"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
	"github.com/devicelab-dev/uia2-server/pkg/response"
)

// MaxBodySize caps request payloads.
const MaxBodySize = 8 << 20

// Handler routes requests to commands through the dispatcher.
type Handler struct {
	env        *commands.Env
	dispatcher *dispatch.Dispatcher
	router     chi.Router
}

// New creates a handler with every route mounted.
func New(env *commands.Env, d *dispatch.Dispatcher) *Handler {
	h := &Handler{env: env, dispatcher: d}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.NotFound(h.unknownCommand)
	r.MethodNotAllowed(h.unknownCommand)
	h.Mount(r)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Mount registers all routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/sessions", h.listSessions)
	r.Post("/session", h.createSession)
	r.Route("/session/{sessionId}", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Delete("/", h.deleteSession)
		r.Get("/appium/settings", h.getSettings)
		r.Post("/appium/settings", h.updateSettings)
		r.Post("/element", h.findElement)
		r.Post("/elements", h.findElements)
		r.Post("/element/{id}/element", h.findElement)
		r.Post("/element/{id}/elements", h.findElements)
		r.Get("/element/{id}/attribute/{name}", h.attribute)
		r.Get("/element/{id}/text", h.text)
		r.Get("/element/{id}/rect", h.rect)
		r.Post("/actions", h.performActions)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s -> %d (%s) [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func (h *Handler) unknownCommand(w http.ResponseWriter, r *http.Request) {
	logger.Warn("unknown command: %s %s", r.Method, r.URL.Path)
	response.Write(w, response.Failure("", core.StatusUnknownCommand, core.StatusUnknownCommand.String(), ""))
}

// readBody returns the request payload, failing with a decode error when it
// cannot be read.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return nil, core.ErrJSONDecode.WithMessagef("unable to read request payload: %v", err).WithCause(err)
	}
	if len(body) > MaxBodySize {
		return nil, core.ErrJSONDecode.WithMessagef("request payload exceeds %d bytes", MaxBodySize)
	}
	return body, nil
}

// run dispatches a command that needs the request body.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, name string, cmd func(sessionID string, body []byte) (interface{}, error)) {
	sessionID := chi.URLParam(r, "sessionId")
	env := h.dispatcher.Dispatch(name, sessionID, func() (interface{}, error) {
		body, err := readBody(r)
		if err != nil {
			return nil, err
		}
		return cmd(sessionID, body)
	})
	response.Write(w, env)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, h.dispatcher.Dispatch("status", "", h.env.Status))
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, h.dispatcher.Dispatch("listSessions", "", h.env.ListSessions))
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var created string
	env := h.dispatcher.Dispatch("createSession", "", func() (interface{}, error) {
		body, err := readBody(r)
		if err != nil {
			return nil, err
		}
		s, value, err := h.env.CreateSession(body)
		if err != nil {
			return nil, err
		}
		created = s.ID
		return value, nil
	})
	if created != "" {
		env.SessionID = created
	}
	response.Write(w, env)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "getSession", func(id string, _ []byte) (interface{}, error) {
		return h.env.GetSession(id)
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "deleteSession", func(id string, _ []byte) (interface{}, error) {
		return h.env.DeleteSession(id)
	})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "getSettings", func(id string, _ []byte) (interface{}, error) {
		return h.env.GetSettings(id)
	})
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "updateSettings", h.env.UpdateSettings)
}

func (h *Handler) findElement(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "id")
	h.run(w, r, "findElement", func(id string, body []byte) (interface{}, error) {
		return h.env.FindElement(r.Context(), id, scope, body)
	})
}

func (h *Handler) findElements(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "id")
	h.run(w, r, "findElements", func(id string, body []byte) (interface{}, error) {
		return h.env.FindElements(r.Context(), id, scope, body)
	})
}

func (h *Handler) attribute(w http.ResponseWriter, r *http.Request) {
	element, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
	h.run(w, r, "getAttribute", func(id string, _ []byte) (interface{}, error) {
		return h.env.Attribute(r.Context(), id, element, name)
	})
}

func (h *Handler) text(w http.ResponseWriter, r *http.Request) {
	element := chi.URLParam(r, "id")
	h.run(w, r, "getText", func(id string, _ []byte) (interface{}, error) {
		return h.env.Text(r.Context(), id, element)
	})
}

func (h *Handler) rect(w http.ResponseWriter, r *http.Request) {
	element := chi.URLParam(r, "id")
	h.run(w, r, "getRect", func(id string, _ []byte) (interface{}, error) {
		return h.env.Rect(r.Context(), id, element)
	})
}

func (h *Handler) performActions(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "performActions", func(id string, body []byte) (interface{}, error) {
		return h.env.PerformActions(r.Context(), id, body)
	})
}
