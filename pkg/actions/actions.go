// Package actions validates and normalizes W3C action chains before they
// are handed to input injection.
package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/devicelab-dev/uia2-server/pkg/core"
)

// Source types.
const (
	TypePointer = "pointer"
	TypeKey     = "key"
	TypeNone    = "none"
)

// Tick types.
const (
	TickPointerMove   = "pointerMove"
	TickPointerDown   = "pointerDown"
	TickPointerUp     = "pointerUp"
	TickPointerCancel = "pointerCancel"
	TickPause         = "pause"
	TickKeyDown       = "keyDown"
	TickKeyUp         = "keyUp"
)

var (
	sourceTypes  = []string{TypePointer, TypeKey, TypeNone}
	pointerTypes = []string{"touch", "pen", "mouse"}

	tickTypes = map[string][]string{
		TypePointer: {TickPointerMove, TickPointerDown, TickPointerUp, TickPointerCancel, TickPause},
		TypeKey:     {TickKeyDown, TickKeyUp, TickPause},
		TypeNone:    {TickPause},
	}
)

// Chain is an ordered list of input sources.
type Chain []Source

// Source is one input device and its ticks.
type Source struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	Parameters *Parameters `json:"parameters,omitempty"`
	Actions    []Tick      `json:"actions"`
}

// Parameters holds source parameters.
type Parameters struct {
	PointerType string `json:"pointerType,omitempty"`
}

// Tick is a single action item. Fields other than "type" are kept verbatim
// so they reach the injector untouched.
type Tick struct {
	Type   string
	Fields map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tick) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Type = ""
	if typ, ok := raw["type"]; ok {
		if err := json.Unmarshal(typ, &t.Type); err != nil {
			return fmt.Errorf("action item type: %w", err)
		}
		delete(raw, "type")
	}
	t.Fields = raw
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Tick) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.Fields)+1)
	for k, v := range t.Fields {
		out[k] = v
	}
	if t.Type != "" {
		typ, err := json.Marshal(t.Type)
		if err != nil {
			return nil, err
		}
		out["type"] = typ
	}
	return json.Marshal(out)
}

// NewTick builds a tick from alternating field names and values.
func NewTick(typ string, kv ...interface{}) (Tick, error) {
	if len(kv)%2 != 0 {
		return Tick{}, fmt.Errorf("tick %s: odd number of field arguments", typ)
	}
	t := Tick{Type: typ, Fields: make(map[string]json.RawMessage, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			return Tick{}, fmt.Errorf("tick %s: field name %v is not a string", typ, kv[i])
		}
		raw, err := json.Marshal(kv[i+1])
		if err != nil {
			return Tick{}, fmt.Errorf("tick %s: field %s: %w", typ, name, err)
		}
		t.Fields[name] = raw
	}
	return t, nil
}

// IntField reads an integer field, such as duration, x or y.
func (t Tick) IntField(name string) (int, bool) {
	raw, ok := t.Fields[name]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return int(f), true
}

// StringField reads a string field, such as value or origin.
func (t Tick) StringField(name string) (string, bool) {
	raw, ok := t.Fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (t Tick) clone() Tick {
	return Tick{Type: t.Type, Fields: maps.Clone(t.Fields)}
}

// Decode parses a wire action chain.
func Decode(data []byte) (Chain, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var chain Chain
	if err := dec.Decode(&chain); err != nil {
		return nil, core.ErrJSONDecode.WithMessagef("unable to parse actions: %v", err).WithCause(err)
	}
	return chain, nil
}

func parseError(format string, args ...interface{}) error {
	return core.ErrActionsParse.WithMessagef(format, args...)
}

// Preprocess validates chain and returns a normalized copy in which every
// pointerCancel tick is removed. The input is not modified.
func Preprocess(chain Chain) (Chain, error) {
	ids := make(map[string]bool, len(chain))
	seenPointerTypes := make(map[string]bool)
	out := make(Chain, 0, len(chain))

	for i, src := range chain {
		if src.ID == "" {
			return nil, parseError("action source #%d has no id", i)
		}
		if ids[src.ID] {
			return nil, parseError("action source id '%s' is used more than once", src.ID)
		}
		ids[src.ID] = true

		if src.Type == "" {
			return nil, parseError("action source '%s' has no type", src.ID)
		}
		if !slices.Contains(sourceTypes, src.Type) {
			return nil, parseError("action source '%s' has type '%s'; expected one of %v", src.ID, src.Type, sourceTypes)
		}

		if src.Parameters != nil && src.Parameters.PointerType != "" {
			pt := src.Parameters.PointerType
			if !slices.Contains(pointerTypes, pt) {
				return nil, parseError("action source '%s' has pointerType '%s'; expected one of %v", src.ID, pt, pointerTypes)
			}
			if src.Type != TypePointer {
				return nil, parseError("pointerType is only allowed on '%s' sources, not on '%s'", TypePointer, src.ID)
			}
			seenPointerTypes[pt] = true
		}

		if len(src.Actions) == 0 {
			return nil, parseError("action source '%s' has no actions", src.ID)
		}

		allowed := tickTypes[src.Type]
		ticks := make([]Tick, 0, len(src.Actions))
		for j, tick := range src.Actions {
			if tick.Type == "" {
				return nil, parseError("action #%d of '%s' has no type", j, src.ID)
			}
			if !slices.Contains(allowed, tick.Type) {
				return nil, parseError("action #%d of '%s' has type '%s'; '%s' sources allow %v",
					j, src.ID, tick.Type, src.Type, allowed)
			}
			if tick.Type == TickPointerCancel {
				continue
			}
			ticks = append(ticks, tick.clone())
		}
		if len(ticks) == 0 {
			return nil, parseError("action source '%s' has no actions left after removing %s", src.ID, TickPointerCancel)
		}

		norm := src
		if src.Parameters != nil {
			p := *src.Parameters
			norm.Parameters = &p
		}
		norm.Actions = ticks
		out = append(out, norm)
	}

	if len(seenPointerTypes) > 1 {
		names := slices.Sorted(maps.Keys(seenPointerTypes))
		return nil, parseError("only one pointer type may be used at a time, got %s", strings.Join(names, ", "))
	}
	return out, nil
}
