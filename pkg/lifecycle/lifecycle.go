// Package lifecycle starts and stops the HTTP listener and keeps the device
// awake while it serves.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
)

// Port range accepted by NewServer.
const (
	MinPort = 1024
	MaxPort = 65535
)

// State of a Server.
type State int

const (
	StateNotCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotCreated:
		return "not created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Options configures a Server.
type Options struct {
	Host     string
	Port     int
	Handler  http.Handler
	WakeLock WakeLock // Defaults to NopWakeLock
	Display  Display  // Defaults to NopDisplay
}

// listener is one run of the serving goroutine.
type listener struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func (l *listener) alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Server owns the listener goroutine.
type Server struct {
	opts   Options
	holder *Holder

	mu      sync.Mutex
	current *listener
	stopped bool

	lockMu sync.Mutex
	locked bool
}

// NewServer validates opts and returns a server that is not yet listening.
func NewServer(opts Options) (*Server, error) {
	if opts.Port < MinPort || opts.Port > MaxPort {
		return nil, core.ErrInvalidArgument.WithMessagef("the port is out of valid range [%d;%d]: %d", MinPort, MaxPort, opts.Port)
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("lifecycle: handler is required")
	}
	if opts.WakeLock == nil {
		opts.WakeLock = NopWakeLock{}
	}
	if opts.Display == nil {
		opts.Display = NopDisplay{}
	}
	return &Server{opts: opts}, nil
}

// Addr is the address the server listens on, or "" when it is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ln.Addr().String()
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.current != nil && s.current.alive():
		return StateRunning
	case s.stopped:
		return StateStopped
	}
	return StateNotCreated
}

// Done is closed once the server has been stopped.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		ch := make(chan struct{})
		if s.stopped {
			close(ch)
		}
		return ch
	}
	return s.current.done
}

// Start binds the port and begins serving. It does nothing when the server
// is already running and fails with SessionRemoved once the server has been
// torn down.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.alive() {
		return nil
	}
	if s.current == nil && s.stopped {
		return core.ErrSessionRemoved.WithMessage("delete session has been invoked; the server cannot be restarted")
	}
	if s.current != nil {
		logger.Error("listener on %s exited unexpectedly; restarting", s.current.ln.Addr())
		s.current = nil
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	l := &listener{
		srv: &http.Server{
			Handler:  s.opts.Handler,
			ErrorLog: log.New(logger.GetWriter(), "[HTTP] ", log.Ltime|log.Lmicroseconds),
		},
		ln:   ln,
		done: make(chan struct{}),
	}
	s.current = l
	go s.serve(l)

	logger.Info("server listening on %s", ln.Addr())
	return nil
}

func (s *Server) serve(l *listener) {
	defer close(l.done)

	s.acquireWakeLock()
	if err := s.opts.Display.Wake(context.Background()); err != nil {
		logger.Error("failed to wake the display: %v", err)
	}

	if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server on %s failed: %v", l.ln.Addr(), err)
	}
}

// Stop releases the wake lock, shuts the listener down and waits for it to
// exit. Calling Stop again does nothing.
func (s *Server) Stop() {
	s.releaseWakeLock()

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.holder.clear(s)

	l := s.current
	if l == nil {
		return
	}
	s.current = nil
	s.stopped = true
	if !l.alive() {
		return
	}

	logger.Info("stopping server on %s", l.ln.Addr())
	if err := l.srv.Shutdown(context.Background()); err != nil {
		logger.Warn("server shutdown: %v", err)
	}
	<-l.done

	// The serving goroutine may have taken the lock after the first release.
	s.releaseWakeLock()
	logger.Info("server stopped")
}

func (s *Server) acquireWakeLock() {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.locked {
		return
	}
	if err := s.opts.WakeLock.Acquire(); err != nil {
		logger.Error("failed to acquire wake lock, serving without it: %v", err)
		return
	}
	s.locked = true
}

func (s *Server) releaseWakeLock() {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if !s.locked {
		return
	}
	if err := s.opts.WakeLock.Release(); err != nil {
		logger.Debug("wake lock release: %v", err)
	}
	s.locked = false
}

// Holder hands out the current Server, building a fresh one after the
// previous one stopped.
type Holder struct {
	factory func() (*Server, error)

	// ShutdownOnDisconnect reports whether a power disconnect should stop
	// the server. Nil means always.
	ShutdownOnDisconnect func() bool

	mu      sync.Mutex
	current *Server
}

// NewHolder creates a holder that builds servers with factory.
func NewHolder(factory func() (*Server, error)) *Holder {
	return &Holder{factory: factory}
}

// Get returns the current server, creating it when needed.
func (h *Holder) Get() (*Server, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		return h.current, nil
	}
	s, err := h.factory()
	if err != nil {
		return nil, err
	}
	s.holder = h
	h.current = s
	return s, nil
}

// Current returns the current server without creating one.
func (h *Holder) Current() *Server {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Holder) clear(s *Server) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == s {
		h.current = nil
	}
}

// HandlePower reacts to a power supply change.
func (h *Holder) HandlePower(ev PowerEvent) {
	logger.Debug("power event: %s", ev)
	if ev != PowerDisconnected {
		return
	}
	s := h.Current()
	if s == nil {
		logger.Debug("the server is already down; ignoring power disconnect")
		return
	}
	if h.ShutdownOnDisconnect != nil && !h.ShutdownOnDisconnect() {
		logger.Debug("shutdown on power disconnect is disabled; ignoring")
		return
	}
	logger.Info("the device was disconnected from power; shutting down the server")
	s.Stop()
}
