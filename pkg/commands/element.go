package commands

import (
	"context"
	"strings"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/session"
	"github.com/devicelab-dev/uia2-server/pkg/settings"
	"github.com/devicelab-dev/uia2-server/pkg/uitree"
)

// Element reference keys.
const (
	ElementKey    = "ELEMENT"
	W3CElementKey = "element-6066-11e4-a52e-4f735466cecf"
)

// FindRequest is the body of the find commands.
type FindRequest struct {
	Strategy string `json:"strategy"`
	Selector string `json:"selector"`
	Context  string `json:"context"`

	// W3C spelling of Strategy and Selector.
	Using string `json:"using"`
	Value string `json:"value"`
}

func (r FindRequest) selector(scope string) (uitree.Selector, error) {
	strategy, value := r.Strategy, r.Selector
	if strategy == "" {
		strategy = r.Using
	}
	if value == "" {
		value = r.Value
	}
	within := r.Context
	if scope != "" {
		within = scope
	}
	return uitree.NewSelector(strategy, value, within)
}

// elementRef builds the JSON reference for a handle. With compact
// responses disabled it also carries the attributes listed in the
// elementResponseAttributes setting.
func elementRef(s *session.Session, handle string) map[string]interface{} {
	ref := map[string]interface{}{
		ElementKey:    handle,
		W3CElementKey: handle,
	}
	if s.Settings.Bool(settings.ShouldUseCompactResponses) {
		return ref
	}
	names := s.Settings.String(settings.ElementResponseAttributes)
	if names == "" {
		return ref
	}
	node, err := s.Cache.Get(handle)
	if err != nil {
		return ref
	}
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if v, ok := node.Attribute(name); ok {
			ref[name] = v
		}
	}
	return ref
}

// liveNode returns the live node behind handle. A stale element is looked
// up again when it was found on its own; otherwise it fails with
// StaleElement.
func liveNode(ctx context.Context, s *session.Session, handle string) (uitree.Node, error) {
	return s.Cache.Restore(ctx, handle, s.FindOptions())
}

func (e *Env) findSetup(ctx context.Context, id string, body []byte, scope string) (*session.Session, uitree.Selector, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, uitree.Selector{}, err
	}
	var req FindRequest
	if err := decode(body, &req); err != nil {
		return nil, uitree.Selector{}, err
	}
	sel, err := req.selector(scope)
	if err != nil {
		return nil, uitree.Selector{}, err
	}
	if sel.Context != "" {
		// An uncached context means a device-wide search.
		if _, err := liveNode(ctx, s, sel.Context); err != nil && core.KindOf(err) != core.KindElementNotFound {
			return nil, uitree.Selector{}, err
		}
	}
	return s, sel, nil
}

// FindElement resolves one element. scope is the element id taken from the
// URL, or "" to use the context in the body.
func (e *Env) FindElement(ctx context.Context, id, scope string, body []byte) (interface{}, error) {
	s, sel, err := e.findSetup(ctx, id, body, scope)
	if err != nil {
		return nil, err
	}
	h, err := s.Cache.Resolve(ctx, sel, s.FindOptions())
	if err != nil {
		return nil, err
	}
	return elementRef(s, h), nil
}

// FindElements resolves every matching element.
func (e *Env) FindElements(ctx context.Context, id, scope string, body []byte) (interface{}, error) {
	s, sel, err := e.findSetup(ctx, id, body, scope)
	if err != nil {
		return nil, err
	}
	handles, err := s.Cache.ResolveAll(ctx, sel, s.FindOptions())
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(handles))
	for _, h := range handles {
		out = append(out, elementRef(s, h))
	}
	return out, nil
}

// Attribute returns a named attribute of an element.
func (e *Env) Attribute(ctx context.Context, id, elementID, name string) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	node, err := liveNode(ctx, s, elementID)
	if err != nil {
		return nil, err
	}
	v, ok := node.Attribute(name)
	if !ok {
		return nil, core.ErrNoSuchAttribute.WithMessagef("'%s' attribute is unknown for the element", name)
	}
	return v, nil
}

// Text returns the text of an element.
func (e *Env) Text(ctx context.Context, id, elementID string) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	node, err := liveNode(ctx, s, elementID)
	if err != nil {
		return nil, err
	}
	text, _ := node.Attribute("text")
	return text, nil
}

// Rect returns the bounds of an element.
func (e *Env) Rect(ctx context.Context, id, elementID string) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	node, err := liveNode(ctx, s, elementID)
	if err != nil {
		return nil, err
	}
	return node.Bounds(), nil
}
