// Package uitree defines the boundary between the command server and the
// platform accessibility layer that produces UI tree nodes.
package uitree

import (
	"context"

	"github.com/devicelab-dev/uia2-server/pkg/core"
)

// Node is a live UI tree node. A node may become invalid at any time after
// the screen redraws, so callers re-check Valid on every use.
type Node interface {
	// Key identifies the underlying node within the current tree snapshot.
	// Two Node values with equal keys refer to the same on-screen element.
	Key() string

	// Bounds is the full node rectangle in screen coordinates.
	Bounds() core.Bounds

	// VisibleBounds is the part of Bounds actually drawn on screen.
	VisibleBounds() core.Bounds

	// Enabled reports whether the node accepts interaction.
	Enabled() bool

	// Valid reports whether the node is still attached to the live tree.
	Valid() bool

	// Attribute returns a named node attribute (text, class, resource-id, ...).
	Attribute(name string) (string, bool)
}

// Query locates nodes in the live tree.
type Query interface {
	// FindFirst returns the first node below root matching sel, or nil when
	// nothing matches. A nil root searches the whole device. When sel carries
	// an instance index the index-th match is returned instead.
	FindFirst(ctx context.Context, sel Selector, root Node) (Node, error)
}

// QueryFunc adapts a function to the Query interface.
type QueryFunc func(ctx context.Context, sel Selector, root Node) (Node, error)

// FindFirst calls f.
func (f QueryFunc) FindFirst(ctx context.Context, sel Selector, root Node) (Node, error) {
	return f(ctx, sel, root)
}
