package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devicelab-dev/uia2-server/pkg/actions"
	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
	"github.com/devicelab-dev/uia2-server/pkg/settings"
)

// InjectOptions carries the session settings that shape input injection.
type InjectOptions struct {
	KeyInjectionDelay  time.Duration
	AcknowledgeTimeout time.Duration
	// ScrollAcknowledgeTimeout bounds the wait for a scroll to settle.
	ScrollAcknowledgeTimeout time.Duration
	// IdleTimeout bounds the wait for the UI to go idle before injecting.
	IdleTimeout time.Duration
}

func injectOptions(s *settings.Store) InjectOptions {
	ms := func(name string) time.Duration { return time.Duration(s.Int(name)) * time.Millisecond }
	return InjectOptions{
		KeyInjectionDelay:        ms(settings.KeyInjectionDelay),
		AcknowledgeTimeout:       ms(settings.ActionAcknowledgmentTimeout),
		ScrollAcknowledgeTimeout: ms(settings.ScrollAcknowledgmentTimeout),
		IdleTimeout:              ms(settings.WaitForIdleTimeout),
	}
}

// Injector replays a normalized action chain on the device.
type Injector interface {
	Perform(ctx context.Context, chain actions.Chain, opts InjectOptions) error
}

// LogInjector writes each tick to the log instead of touching a device.
type LogInjector struct{}

// Perform implements Injector.
func (LogInjector) Perform(_ context.Context, chain actions.Chain, opts InjectOptions) error {
	logger.Debug("injecting %d sources (idle timeout %s, ack %s, scroll ack %s)",
		len(chain), opts.IdleTimeout, opts.AcknowledgeTimeout, opts.ScrollAcknowledgeTimeout)
	for _, src := range chain {
		for i, tick := range src.Actions {
			switch tick.Type {
			case actions.TickPointerMove:
				x, _ := tick.IntField("x")
				y, _ := tick.IntField("y")
				logger.Debug("%s[%d] %s to (%d, %d)", src.ID, i, tick.Type, x, y)
			case actions.TickKeyDown, actions.TickKeyUp:
				v, _ := tick.StringField("value")
				logger.Debug("%s[%d] %s %q (delay %s)", src.ID, i, tick.Type, v, opts.KeyInjectionDelay)
			case actions.TickPause:
				d, _ := tick.IntField("duration")
				logger.Debug("%s[%d] pause %dms", src.ID, i, d)
			default:
				logger.Debug("%s[%d] %s", src.ID, i, tick.Type)
			}
		}
	}
	return nil
}

// PerformActions validates {"actions": [...]} and hands it to the injector.
func (e *Env) PerformActions(ctx context.Context, id string, body []byte) (interface{}, error) {
	s, err := e.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	var req struct {
		Actions json.RawMessage `json:"actions"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if len(req.Actions) == 0 || string(req.Actions) == "null" {
		return nil, core.ErrActionsParse.WithMessage("'actions' must be an array of input sources")
	}

	chain, err := actions.Decode(req.Actions)
	if err != nil {
		return nil, err
	}
	normalized, err := actions.Preprocess(chain)
	if err != nil {
		return nil, err
	}

	if e.Injector == nil {
		return nil, core.ErrMissingDependency.WithMessage("no input injector is configured")
	}
	if err := e.Injector.Perform(ctx, normalized, injectOptions(s.Settings)); err != nil {
		return nil, err
	}
	return nil, nil
}
