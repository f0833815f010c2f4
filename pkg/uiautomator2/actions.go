package uiautomator2

import (
	"time"

	"github.com/devicelab-dev/uia2-server/pkg/actions"
)

// PerformActions sends a W3C action chain.
func (c *Client) PerformActions(chain actions.Chain) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.call("POST", c.sessionPath("/actions"), map[string]interface{}{"actions": chain}, nil)
}

type step struct {
	typ    string
	fields []interface{}
}

func move(x, y int, d time.Duration) step {
	return step{actions.TickPointerMove, []interface{}{"duration", d.Milliseconds(), "x", x, "y", y}}
}

func down() step { return step{actions.TickPointerDown, []interface{}{"button", 0}} }
func up() step { return step{actions.TickPointerUp, []interface{}{"button", 0}} }

func pause(d time.Duration) step {
	return step{actions.TickPause, []interface{}{"duration", d.Milliseconds()}}
}

func build(steps ...step) ([]actions.Tick, error) {
	ticks := make([]actions.Tick, 0, len(steps))
	for _, s := range steps {
		t, err := actions.NewTick(s.typ, s.fields...)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

func (c *Client) touch(steps ...step) error {
	ticks, err := build(steps...)
	if err != nil {
		return err
	}
	return c.PerformActions(actions.Chain{{
		Type:       actions.TypePointer,
		ID:         "finger1",
		Parameters: &actions.Parameters{PointerType: "touch"},
		Actions:    ticks,
	}})
}

// Tap presses and releases a finger at (x, y).
func (c *Client) Tap(x, y int) error {
	return c.touch(move(x, y, 0), down(), up())
}

// LongPress holds a finger at (x, y) for d.
func (c *Client) LongPress(x, y int, d time.Duration) error {
	return c.touch(move(x, y, 0), down(), pause(d), up())
}

// Swipe drags a finger from one point to another over d.
func (c *Client) Swipe(fromX, fromY, toX, toY int, d time.Duration) error {
	return c.touch(move(fromX, fromY, 0), down(), move(toX, toY, d), up())
}

// Type presses and releases each rune of text on a key source.
func (c *Client) Type(text string) error {
	var steps []step
	for _, r := range text {
		steps = append(steps,
			step{actions.TickKeyDown, []interface{}{"value", string(r)}},
			step{actions.TickKeyUp, []interface{}{"value", string(r)}},
		)
	}
	ticks, err := build(steps...)
	if err != nil {
		return err
	}
	return c.PerformActions(actions.Chain{{Type: actions.TypeKey, ID: "keyboard", Actions: ticks}})
}
