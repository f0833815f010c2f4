package uitree

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devicelab-dev/uia2-server/pkg/core"
)

// Strategy is a WebDriver locator strategy.
type Strategy string

// Locator strategies.
const (
	StrategyID              Strategy = "id"
	StrategyClassName       Strategy = "class name"
	StrategyXPath           Strategy = "xpath"
	StrategyAccessibilityID Strategy = "accessibility id"
	StrategyUIAutomator     Strategy = "-android uiautomator"
	StrategyName            Strategy = "name"
	StrategyLinkText        Strategy = "link text"
	StrategyPartialLinkText Strategy = "partial link text"
	StrategyCSS             Strategy = "css selector"
)

var strategies = map[string]Strategy{
	string(StrategyID):              StrategyID,
	string(StrategyClassName):       StrategyClassName,
	string(StrategyXPath):           StrategyXPath,
	string(StrategyAccessibilityID): StrategyAccessibilityID,
	string(StrategyUIAutomator):     StrategyUIAutomator,
	"-platform uiautomator":         StrategyUIAutomator,
	string(StrategyName):            StrategyName,
	string(StrategyLinkText):        StrategyLinkText,
	string(StrategyPartialLinkText): StrategyPartialLinkText,
	string(StrategyCSS):             StrategyCSS,
}

// ParseStrategy maps a wire strategy name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	if s, ok := strategies[name]; ok {
		return s, nil
	}
	return "", core.ErrInvalidSelector.WithMessagef("locator strategy '%s' is not supported", name)
}

var (
	uiautomatorInstance = regexp.MustCompile(`\.instance\(\s*\d+\s*\)\s*;?\s*$`)
	xpathInstance       = regexp.MustCompile(`^\(.*\)\s*\[\s*\d+\s*\]\s*$`)
)

// Selector is a (strategy, value, context) triple, optionally narrowed to
// the n-th match by an instance index.
type Selector struct {
	Strategy Strategy
	Value    string
	Context  string // Element handle scoping the search; empty for device-wide

	instance int
	indexed  bool
}

// NewSelector validates the wire fields of a locator.
func NewSelector(strategy, value, context string) (Selector, error) {
	s, err := ParseStrategy(strategy)
	if err != nil {
		return Selector{}, err
	}
	if value == "" {
		return Selector{}, core.ErrInvalidSelector.WithMessagef("selector value for '%s' must not be empty", strategy)
	}
	return Selector{Strategy: s, Value: value, Context: context}, nil
}

// WithInstance returns a copy of s that targets the i-th match.
func (s Selector) WithInstance(i int) Selector {
	s.instance = i
	s.indexed = true
	return s
}

// Instance returns the instance index and whether one is set.
func (s Selector) Instance() (int, bool) {
	return s.instance, s.indexed
}

// Pinned reports whether the selector value itself already addresses one
// specific match. Re-indexing such a selector would target a different
// element rather than continue a list.
func (s Selector) Pinned() bool {
	switch s.Strategy {
	case StrategyUIAutomator:
		return uiautomatorInstance.MatchString(s.Value)
	case StrategyXPath:
		return xpathInstance.MatchString(strings.TrimSpace(s.Value))
	}
	return false
}

// String renders the selector for logs.
func (s Selector) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Selector[STRATEGY=%s, VALUE=%s", s.Strategy, s.Value)
	if s.Context != "" {
		fmt.Fprintf(&b, ", CONTEXT=%s", s.Context)
	}
	if s.indexed {
		fmt.Fprintf(&b, ", INSTANCE=%d", s.instance)
	}
	b.WriteString("]")
	return b.String()
}
