// Package session tracks the single automation session the server serves.
package session

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uia2-server/pkg/cache"
	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
	"github.com/devicelab-dev/uia2-server/pkg/settings"
	"github.com/devicelab-dev/uia2-server/pkg/uitree"
)

// Session is one client session with its element cache and settings.
type Session struct {
	ID           string
	Capabilities map[string]interface{}
	Created      time.Time

	Cache    *cache.Cache
	Settings *settings.Store
}

// FindOptions derives the element lookup options from the session settings.
func (s *Session) FindOptions() cache.Options {
	return cache.Options{
		AllowInvisible: s.Settings.Bool(settings.AllowInvisibleElements),
		Wait:           time.Duration(s.Settings.Int(settings.WaitForSelectorTimeout)) * time.Millisecond,
	}
}

// Registry owns the current session. At most one session exists at a time.
type Registry struct {
	query    uitree.Query
	seq      *cache.Sequence
	defaults map[string]interface{}

	mu      sync.Mutex
	current *Session
}

// NewRegistry creates an empty registry. Sessions share seq so handles
// keep increasing across sessions. defaults are applied to the settings of
// every new session.
func NewRegistry(query uitree.Query, seq *cache.Sequence, defaults map[string]interface{}) *Registry {
	if seq == nil {
		seq = &cache.Sequence{}
	}
	return &Registry{
		query:    query,
		seq:      seq,
		defaults: maps.Clone(defaults),
	}
}

// Create starts a new session, replacing any existing one.
func (r *Registry) Create(caps map[string]interface{}) (*Session, error) {
	store := settings.NewStore()
	if len(r.defaults) > 0 {
		if err := store.Update(r.defaults); err != nil {
			return nil, core.ErrSessionNotCreated.WithMessagef("invalid default settings: %v", err).WithCause(err)
		}
	}
	if caps == nil {
		caps = map[string]interface{}{}
	}

	s := &Session{
		ID:           uuid.NewString(),
		Capabilities: caps,
		Created:      time.Now(),
		Cache:        cache.New(r.query, r.seq),
		Settings:     store,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		logger.Info("replacing session %s with %s", r.current.ID, s.ID)
		r.current.Cache.Reset()
	}
	r.current = s
	logger.Info("created session %s", s.ID)
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, core.ErrNoSession.WithMessage("no session is running; create one first")
	}
	if r.current.ID != id {
		return nil, core.ErrNoSession.WithMessagef("session '%s' does not exist", id)
	}
	return r.current, nil
}

// Current returns the active session, or nil.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// List returns the active sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return []*Session{}
	}
	return []*Session{r.current}
}

// Delete ends the session with the given id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current.ID != id {
		return core.ErrNoSession.WithMessagef("session '%s' does not exist", id)
	}
	r.current.Cache.Reset()
	r.current = nil
	logger.Info("deleted session %s", id)
	return nil
}
