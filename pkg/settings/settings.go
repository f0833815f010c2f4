// Package settings holds the per-session tunables exposed through the
// appium/settings endpoints.
package settings

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
)

// Setting names.
const (
	ActionAcknowledgmentTimeout = "actionAcknowledgmentTimeout"
	AllowInvisibleElements      = "allowInvisibleElements"
	IgnoreUnimportantViews      = "ignoreUnimportantViews"
	ElementResponseAttributes   = "elementResponseAttributes"
	EnableNotificationListener  = "enableNotificationListener"
	KeyInjectionDelay           = "keyInjectionDelay"
	ScrollAcknowledgmentTimeout = "scrollAcknowledgmentTimeout"
	ShouldUseCompactResponses   = "shouldUseCompactResponses"
	WaitForIdleTimeout          = "waitForIdleTimeout"
	WaitForSelectorTimeout      = "waitForSelectorTimeout"
	ShutdownOnPowerDisconnect   = "shutdownOnPowerDisconnect"
)

// Type is the value type of a setting.
type Type int

const (
	TypeBool Type = iota
	TypeInt
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "boolean"
	case TypeInt:
		return "integer"
	case TypeString:
		return "string"
	}
	return "unknown"
}

// Definition declares one setting.
type Definition struct {
	Name    string
	Type    Type
	Default interface{}
}

// Definitions lists every supported setting.
var Definitions = []Definition{
	{ActionAcknowledgmentTimeout, TypeInt, int64(3000)},
	{AllowInvisibleElements, TypeBool, false},
	{IgnoreUnimportantViews, TypeBool, false},
	{ElementResponseAttributes, TypeString, ""},
	{EnableNotificationListener, TypeBool, true},
	{KeyInjectionDelay, TypeInt, int64(0)},
	{ScrollAcknowledgmentTimeout, TypeInt, int64(200)},
	{ShouldUseCompactResponses, TypeBool, true},
	{WaitForIdleTimeout, TypeInt, int64(10000)},
	{WaitForSelectorTimeout, TypeInt, int64(10000)},
	{ShutdownOnPowerDisconnect, TypeBool, true},
}

// Lookup finds a setting definition by name.
func Lookup(name string) (Definition, bool) {
	i := slices.IndexFunc(Definitions, func(d Definition) bool { return d.Name == name })
	if i < 0 {
		return Definition{}, false
	}
	return Definitions[i], true
}

// Normalize checks value against the declared type of name and converts
// numbers to int64.
func Normalize(name string, value interface{}) (interface{}, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, core.ErrUnsupportedSetting.WithMessagef("setting '%s' is not supported", name)
	}
	invalid := core.ErrInvalidArgument.WithMessagef("invalid value %v (%T) for setting '%s': expected %s", value, value, name, def.Type)

	switch def.Type {
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) && !math.IsInf(v, 0) && math.Abs(v) <= math.MaxInt64 {
				return int64(v), nil
			}
		}
	}
	return nil, invalid
}

// Store is the settings of one session.
type Store struct {
	mu     sync.Mutex
	values map[string]interface{}
}

// NewStore returns a store holding the defaults.
func NewStore() *Store {
	s := &Store{values: make(map[string]interface{}, len(Definitions))}
	for _, d := range Definitions {
		s.values[d.Name] = d.Default
	}
	return s
}

// Update applies every value in updates or none of them.
func (s *Store) Update(updates map[string]interface{}) error {
	normalized := make(map[string]interface{}, len(updates))
	for _, name := range slices.Sorted(maps.Keys(updates)) {
		v, err := Normalize(name, updates[name])
		if err != nil {
			return err
		}
		normalized[name] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range normalized {
		logger.Debug("set %s to %v", name, v)
		s.values[name] = v
	}
	return nil
}

// Values returns a copy of all current values.
func (s *Store) Values() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

func (s *Store) get(name string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	if !ok {
		panic(fmt.Sprintf("settings: unknown setting %q", name))
	}
	return v
}

// Bool returns a boolean setting.
func (s *Store) Bool(name string) bool {
	b, _ := s.get(name).(bool)
	return b
}

// Int returns an integer setting.
func (s *Store) Int(name string) int64 {
	i, _ := s.get(name).(int64)
	return i
}

// String returns a string setting.
func (s *Store) String(name string) string {
	str, _ := s.get(name).(string)
	return str
}
