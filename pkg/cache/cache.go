// Package cache maps opaque element handles to live UI tree nodes.
package cache

import (
	"context"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
	"github.com/devicelab-dev/uia2-server/pkg/uitree"
)

// MaxEnumeration bounds how many instances ResolveAll will ask for.
const MaxEnumeration = 1000

// Sequence hands out element handles. One Sequence lives for the whole
// process so that handles are never reused, even across sessions.
type Sequence struct {
	mu   sync.Mutex
	last uint64
}

// Next returns the next handle.
func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return strconv.FormatUint(s.last, 10)
}

// PollInterval is the pause between queries while Resolve waits for a match.
const PollInterval = 100 * time.Millisecond

// Options tune how queries are turned into handles.
type Options struct {
	// AllowInvisible admits matches whose visible bounds are empty.
	AllowInvisible bool
	// Wait is how long Resolve keeps re-querying before giving up.
	Wait time.Duration
}

// entry is one cached element with the locator that produced it.
type entry struct {
	node uitree.Node
	sel  uitree.Selector
	// restorable entries came from a single-element lookup and may be
	// re-queried with sel once node goes stale.
	restorable bool
}

// Cache holds the elements handed out to one session.
type Cache struct {
	query uitree.Query
	seq   *Sequence

	mu    sync.Mutex
	nodes map[string]entry
	keys  map[string]string // node key -> handle
}

// New creates an empty cache. A nil seq gets a private sequence.
func New(query uitree.Query, seq *Sequence) *Cache {
	if seq == nil {
		seq = &Sequence{}
	}
	return &Cache{
		query: query,
		seq:   seq,
		nodes: make(map[string]entry),
		keys:  make(map[string]string),
	}
}

// Add caches node and returns its handle. A node that is already cached and
// still valid keeps its handle.
func (c *Cache) Add(node uitree.Node) string {
	return c.add(entry{node: node})
}

func (c *Cache) add(e entry) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := e.node.Key()
	if h, ok := c.keys[key]; ok {
		if cached, ok := c.nodes[h]; ok && cached.node.Valid() {
			if e.restorable && !cached.restorable {
				c.nodes[h] = e
			}
			return h
		}
	}

	h := c.seq.Next()
	c.nodes[h] = e
	c.keys[key] = h
	return h
}

// Get returns the node behind a handle. The node may be stale; callers
// check Valid before use or go through Restore.
func (c *Cache) Get(handle string) (uitree.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.nodes[handle]
	if !ok {
		return nil, core.ErrElementNotFound.WithMessagef("element with id '%s' is not cached", handle)
	}
	return e.node, nil
}

// Restore returns the live node behind handle. A stale node found by a
// single-element lookup is looked up again with its original locator and
// the handle is rebound to the new match. Anything else that has gone
// stale fails with StaleElement.
func (c *Cache) Restore(ctx context.Context, handle string, opts Options) (uitree.Node, error) {
	c.mu.Lock()
	e, ok := c.nodes[handle]
	c.mu.Unlock()
	if !ok {
		return nil, core.ErrElementNotFound.WithMessagef("element with id '%s' is not cached", handle)
	}
	if e.node.Valid() {
		return e.node, nil
	}
	stale := core.ErrStaleElement.WithMessagef("the element '%s' does not exist in the tree anymore", handle)
	if !e.restorable {
		return nil, stale
	}

	var root uitree.Node
	if e.sel.Context != "" && e.sel.Context != handle {
		r, err := c.Restore(ctx, e.sel.Context, opts)
		switch {
		case err == nil:
			root = r
		case core.KindOf(err) != core.KindElementNotFound:
			return nil, stale.WithCause(err)
		}
	}

	n, err := c.query.FindFirst(ctx, e.sel, root)
	if err != nil {
		return nil, stale.WithCause(err)
	}
	if !usable(e.sel, root, n, opts) {
		return nil, stale
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[handle]; !ok {
		// Reset while the query ran.
		return nil, stale
	}
	e.node = n
	c.nodes[handle] = e
	c.keys[n.Key()] = handle
	logger.Debug("restored element %s using %s", handle, e.sel)
	return n, nil
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// Reset drops every handle. The sequence keeps counting.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[string]entry)
	c.keys = make(map[string]string)
}

// scope returns the cached node named by sel.Context, or nil for a
// device-wide search.
func (c *Cache) scope(sel uitree.Selector) uitree.Node {
	if sel.Context == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[sel.Context].node
}

// usable reports whether a query result may be handed to the client.
func usable(sel uitree.Selector, root, n uitree.Node, opts Options) bool {
	if n == nil {
		return false
	}
	if !opts.AllowInvisible && n.VisibleBounds().Empty() {
		logger.Debug("discarding %s: match %s is not visible", sel, n.Key())
		return false
	}
	if root != nil && !n.VisibleBounds().Intersects(root.Bounds()) {
		logger.Debug("discarding %s: match %s lies outside context bounds %+v", sel, n.Key(), root.Bounds())
		return false
	}
	if !n.Enabled() {
		logger.Debug("discarding %s: match %s is not enabled", sel, n.Key())
		return false
	}
	return true
}

// Resolve finds the first usable node for sel and returns its handle. With
// opts.Wait set it keeps querying until a usable node shows up or the wait
// runs out.
func (c *Cache) Resolve(ctx context.Context, sel uitree.Selector, opts Options) (string, error) {
	root := c.scope(sel)
	deadline := time.Now().Add(opts.Wait)
	for {
		n, err := c.query.FindFirst(ctx, sel, root)
		if err != nil {
			return "", err
		}
		if usable(sel, root, n, opts) {
			return c.add(entry{node: n, sel: sel, restorable: true}), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return "", core.ErrElementNotFound.WithMessagef("could not find an element using %s", sel).WithCause(ctx.Err())
		case <-time.After(min(remaining, PollInterval)):
		}
	}
	return "", core.ErrElementNotFound.WithMessagef("could not find an element using %s", sel)
}

// Enumerate yields handles for consecutive usable matches of sel. It stops
// at the first empty, unusable or repeated result, on a query error, or
// after MaxEnumeration rounds. Query errors are reported through errp when it is
// not nil. Enumeration never waits.
func (c *Cache) Enumerate(ctx context.Context, sel uitree.Selector, opts Options, errp *error) iter.Seq[string] {
	return func(yield func(string) bool) {
		root := c.scope(sel)
		rounds := MaxEnumeration
		if sel.Pinned() {
			rounds = 1
		}
		seen := make(map[string]bool)
		for i := 0; i < rounds; i++ {
			q := sel
			if !sel.Pinned() {
				q = sel.WithInstance(i)
			}
			n, err := c.query.FindFirst(ctx, q, root)
			if err != nil {
				if errp != nil {
					*errp = err
				}
				return
			}
			if !usable(q, root, n, opts) {
				return
			}
			h := c.add(entry{node: n, sel: q})
			if seen[h] {
				logger.Debug("engine returned %s twice for %s", h, sel)
				return
			}
			seen[h] = true
			if !yield(h) {
				return
			}
		}
		if !sel.Pinned() {
			logger.Warn("stopped enumerating %s after %d matches", sel, MaxEnumeration)
		}
	}
}

// ResolveAll returns handles for every usable match of sel. An empty result
// is not an error.
func (c *Cache) ResolveAll(ctx context.Context, sel uitree.Selector, opts Options) ([]string, error) {
	var err error
	handles := []string{}
	for h := range c.Enumerate(ctx, sel, opts, &err) {
		handles = append(handles, h)
	}
	if err != nil {
		return nil, err
	}
	return handles, nil
}
