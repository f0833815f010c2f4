// Package fake provides an in-memory UI tree for running the server without
// a real device. Trees are built in code or loaded from YAML fixtures.
package fake

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/uitree"
)

// Node is a fake UI element.
type Node struct {
	ResourceID  string       `yaml:"resourceId"`
	Class       string       `yaml:"class"`
	Text        string       `yaml:"text"`
	Description string       `yaml:"description"`
	Rect        core.Bounds  `yaml:"bounds"`
	Visible     *core.Bounds `yaml:"visibleBounds"` // Defaults to Rect
	Disabled    bool         `yaml:"disabled"`
	Children    []*Node      `yaml:"children"`

	key   string
	stale atomic.Bool
}

// Key implements uitree.Node.
func (n *Node) Key() string { return n.key }

// Bounds implements uitree.Node.
func (n *Node) Bounds() core.Bounds { return n.Rect }

// VisibleBounds implements uitree.Node.
func (n *Node) VisibleBounds() core.Bounds {
	if n.Visible != nil {
		return *n.Visible
	}
	return n.Rect
}

// Enabled implements uitree.Node.
func (n *Node) Enabled() bool { return !n.Disabled }

// Valid implements uitree.Node.
func (n *Node) Valid() bool { return !n.stale.Load() }

// Attribute implements uitree.Node.
func (n *Node) Attribute(name string) (string, bool) {
	switch name {
	case "resource-id", "resourceId":
		return n.ResourceID, true
	case "class", "className":
		return n.Class, true
	case "text", "name":
		return n.Text, true
	case "content-desc", "contentDescription":
		return n.Description, true
	case "enabled":
		return strconv.FormatBool(n.Enabled()), true
	case "displayed":
		return strconv.FormatBool(!n.VisibleBounds().Empty()), true
	case "bounds":
		b := n.Rect
		return fmt.Sprintf("[%d,%d][%d,%d]", b.X, b.Y, b.X+b.Width, b.Y+b.Height), true
	}
	return "", false
}

// Config configures fake query behavior.
type Config struct {
	// LeakOutOfSubtree makes scoped queries fall back to the whole tree when
	// the subtree has no match, mimicking an accessibility layer quirk.
	LeakOutOfSubtree bool `yaml:"leakOutOfSubtree"`
}

// Tree is a fake device tree implementing uitree.Query.
type Tree struct {
	Config Config `yaml:"config"`
	Root   *Node  `yaml:"root"`

	mu         sync.Mutex
	queries    int
	generation int
}

// New creates a tree from a root node.
func New(root *Node, cfg Config) *Tree {
	t := &Tree{Root: root, Config: cfg}
	t.index()
	return t
}

// Load reads a YAML tree fixture.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided fixture file
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML tree fixture.
func Parse(data []byte) (*Tree, error) {
	var t Tree
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tree fixture: %w", err)
	}
	if t.Root == nil {
		return nil, fmt.Errorf("tree fixture has no root node")
	}
	t.index()
	return &t, nil
}

func (t *Tree) index() {
	var walk func(n *Node, key string)
	walk = func(n *Node, key string) {
		n.key = key
		for i, c := range n.Children {
			walk(c, key+"/"+strconv.Itoa(i))
		}
	}
	if t.Root != nil {
		walk(t.Root, strconv.Itoa(t.generation))
	}
}

// Redraw invalidates every node currently in the tree and installs a fresh
// copy of it, as happens when the screen is re-rendered.
func (t *Tree) Redraw() {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.Root
	t.walk(old, func(n *Node) { n.stale.Store(true) })
	t.Root = clone(old)
	t.generation++
	t.index()
}

func clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		ResourceID:  n.ResourceID,
		Class:       n.Class,
		Text:        n.Text,
		Description: n.Description,
		Rect:        n.Rect,
		Visible:     n.Visible,
		Disabled:    n.Disabled,
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, clone(child))
	}
	return c
}

// Queries returns the number of FindFirst calls served.
func (t *Tree) Queries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queries
}

// Find returns the node with the given resource id, for test setup.
func (t *Tree) Find(resourceID string) *Node {
	t.mu.Lock()
	root := t.Root
	t.mu.Unlock()

	var found *Node
	t.walk(root, func(n *Node) {
		if found == nil && n.ResourceID == resourceID {
			found = n
		}
	})
	return found
}

func (t *Tree) walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		t.walk(c, fn)
	}
}

// FindFirst implements uitree.Query.
func (t *Tree) FindFirst(ctx context.Context, sel uitree.Selector, root uitree.Node) (uitree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.queries++
	top := t.Root
	t.mu.Unlock()

	m, err := compile(sel)
	if err != nil {
		return nil, err
	}

	start := top
	scoped := false
	if root != nil {
		n, ok := root.(*Node)
		if !ok {
			return nil, core.ErrUnsupportedOperation.WithMessagef("foreign node type %T", root)
		}
		start = n
		scoped = true
	}

	matches := t.collect(start, m, scoped)
	if len(matches) == 0 && scoped && t.Config.LeakOutOfSubtree {
		matches = t.collect(top, m, false)
	}

	idx := m.instance
	if i, ok := sel.Instance(); ok && !m.pinned {
		idx = i
	}
	if idx < 0 || idx >= len(matches) {
		return nil, nil
	}
	return matches[idx], nil
}

// collect returns matches in document order; a scoped search excludes its root.
func (t *Tree) collect(start *Node, m matcher, skipRoot bool) []*Node {
	var out []*Node
	t.walk(start, func(n *Node) {
		if skipRoot && n == start {
			return
		}
		if !n.stale.Load() && m.match(n) {
			out = append(out, n)
		}
	})
	return out
}

type matcher struct {
	match    func(*Node) bool
	instance int
	pinned   bool
}

var (
	xpathExpr   = regexp.MustCompile(`^//([\w.*]+)(?:\[@([\w-]+)='([^']*)'\])?$`)
	xpathPinned = regexp.MustCompile(`^\((.*)\)\s*\[\s*(\d+)\s*\]$`)
	uiaCall     = regexp.MustCompile(`\.(\w+)\(\s*(?:"([^"]*)"|(\d+))\s*\)`)
)

func compile(sel uitree.Selector) (matcher, error) {
	v := sel.Value
	switch sel.Strategy {
	case uitree.StrategyID:
		return matcher{match: func(n *Node) bool {
			return n.ResourceID == v || strings.HasSuffix(n.ResourceID, ":id/"+v)
		}}, nil
	case uitree.StrategyClassName:
		return matcher{match: func(n *Node) bool { return n.Class == v }}, nil
	case uitree.StrategyAccessibilityID:
		return matcher{match: func(n *Node) bool { return n.Description == v }}, nil
	case uitree.StrategyName:
		return matcher{match: func(n *Node) bool { return n.Text == v || n.Description == v }}, nil
	case uitree.StrategyLinkText:
		return matcher{match: func(n *Node) bool { return n.Text == v }}, nil
	case uitree.StrategyPartialLinkText:
		return matcher{match: func(n *Node) bool { return strings.Contains(n.Text, v) }}, nil
	case uitree.StrategyXPath:
		return compileXPath(strings.TrimSpace(v))
	case uitree.StrategyUIAutomator:
		return compileUiSelector(strings.TrimSpace(v))
	case uitree.StrategyCSS:
		return matcher{}, core.ErrInvalidSelector.WithMessage("css selector locator is not supported for native context")
	}
	return matcher{}, core.ErrInvalidSelector.WithMessagef("locator strategy '%s' is not supported", sel.Strategy)
}

func compileXPath(expr string) (matcher, error) {
	instance, pinned := 0, false
	if m := xpathPinned.FindStringSubmatch(expr); m != nil {
		pos, _ := strconv.Atoi(m[2])
		if pos < 1 {
			return matcher{}, core.ErrInvalidSelector.WithMessagef("xpath position must start at 1: %s", expr)
		}
		expr, instance, pinned = strings.TrimSpace(m[1]), pos-1, true
	}
	m := xpathExpr.FindStringSubmatch(expr)
	if m == nil {
		return matcher{}, core.ErrUnparseableSelector.WithMessagef("unable to parse xpath '%s'", expr)
	}
	class, attr, want := m[1], m[2], m[3]
	return matcher{
		instance: instance,
		pinned:   pinned,
		match: func(n *Node) bool {
			if class != "*" && n.Class != class {
				return false
			}
			if attr == "" {
				return true
			}
			got, ok := n.Attribute(attr)
			return ok && got == want
		},
	}, nil
}

func compileUiSelector(expr string) (matcher, error) {
	const prefix = "new UiSelector()"
	if !strings.HasPrefix(expr, prefix) {
		return matcher{}, core.ErrUnparseableSelector.WithMessagef("unable to parse UiSelector '%s'", expr)
	}
	rest := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(expr, prefix)), ";")
	if strings.TrimSpace(uiaCall.ReplaceAllString(rest, "")) != "" {
		return matcher{}, core.ErrUnparseableSelector.WithMessagef("unable to parse UiSelector '%s'", expr)
	}
	calls := uiaCall.FindAllStringSubmatch(rest, -1)

	var preds []func(*Node) bool
	out := matcher{}
	for _, c := range calls {
		name, str, num := c[1], c[2], c[3]
		switch name {
		case "resourceId":
			preds = append(preds, func(n *Node) bool { return n.ResourceID == str })
		case "className":
			preds = append(preds, func(n *Node) bool { return n.Class == str })
		case "text":
			preds = append(preds, func(n *Node) bool { return n.Text == str })
		case "textContains":
			preds = append(preds, func(n *Node) bool { return strings.Contains(n.Text, str) })
		case "description":
			preds = append(preds, func(n *Node) bool { return n.Description == str })
		case "instance":
			i, err := strconv.Atoi(num)
			if err != nil {
				return matcher{}, core.ErrUnparseableSelector.WithMessagef("instance() expects an integer in '%s'", expr)
			}
			out.instance, out.pinned = i, true
		default:
			return matcher{}, core.ErrInvalidSelector.WithMessagef("UiSelector method '%s' is not supported", name)
		}
	}
	out.match = func(n *Node) bool {
		for _, p := range preds {
			if !p(n) {
				return false
			}
		}
		return true
	}
	return out, nil
}
