// Package dispatch runs command logic under one recovery boundary and maps
// every failure onto a wire status.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
	"github.com/devicelab-dev/uia2-server/pkg/response"
)

// MeterName is the instrumentation scope of dispatcher metrics.
const MeterName = "uia2-server"

// NoSuchContextMessage replaces the detail of no-such-context failures.
const NoSuchContextMessage = "Invalid window handle was used: only 'NATIVE_APP' and 'WEBVIEW' are supported."

// Rule maps a failure kind to a status.
type Rule struct {
	Kind   core.Kind
	Status core.Status
	Log    logLevel
	Echo   bool // Send the failure message to the client
}

type logLevel int

const (
	logError logLevel = iota
	logDebug
)

// Rules is the ordered failure table. First match wins; anything that
// matches no rule goes to the catch-all path.
var Rules = []Rule{
	{core.KindInvalidSelector, core.StatusInvalidSelector, logError, true},
	{core.KindElementNotFound, core.StatusNoSuchElement, logDebug, false},
	{core.KindUnparseableSelector, core.StatusInvalidSelector, logError, true},
	{core.KindScreenshotOutOfBounds, core.StatusElementNotVisible, logError, true},
	{core.KindInvalidElementState, core.StatusInvalidElementState, logError, true},
	{core.KindNoAlertOpen, core.StatusNoAlertOpen, logError, true},
	{core.KindNoSuchAttribute, core.StatusUnknownCommand, logError, true},
	{core.KindInvalidCoordinates, core.StatusInvalidElementCoordinates, logError, true},
	{core.KindNoSuchContext, core.StatusNoSuchWindow, logError, false},
	{core.KindStaleElement, core.StatusStaleElementReference, logError, true},
	{core.KindUnsupportedOperation, core.StatusUnknownError, logError, true},
	{core.KindJSONDecode, core.StatusJSONDecoderError, logError, true},
	{core.KindActionsParse, core.StatusJSONDecoderError, logError, true},
	{core.KindMissingDependency, core.StatusUnknownCommand, logError, true},
	{core.KindNoSession, core.StatusNoSuchDriver, logError, true},
	{core.KindSessionRemoved, core.StatusNoSuchDriver, logError, true},
	{core.KindSessionNotCreated, core.StatusSessionNotCreated, logError, true},
	{core.KindUnsupportedSetting, core.StatusUnknownError, logError, true},
	{core.KindInvalidArgument, core.StatusUnknownError, logError, true},
	{core.KindTimeout, core.StatusTimeout, logError, true},
}

// Lookup returns the first rule matching kind.
func Lookup(kind core.Kind) (Rule, bool) {
	for _, r := range Rules {
		if r.Kind == kind {
			return r, true
		}
	}
	return Rule{}, false
}

// Command is the logic of one request.
type Command func() (interface{}, error)

// Dispatcher executes commands.
type Dispatcher struct {
	commands metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a dispatcher recording metrics on meter. A nil meter records
// nothing.
func New(meter metric.Meter) (*Dispatcher, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	d := &Dispatcher{}
	var err error

	d.commands, err = meter.Int64Counter("uia2.commands",
		metric.WithDescription("Commands dispatched, by response status"),
	)
	if err != nil {
		return nil, err
	}

	d.duration, err = meter.Float64Histogram("uia2.command.duration",
		metric.WithDescription("Command execution time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// Dispatch runs cmd and always returns an envelope, even when cmd panics.
func (d *Dispatcher) Dispatch(name, sessionID string, cmd Command) (env response.Envelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("%s: recovered from panic: %v\n%s", name, r, stack)
			env = response.Failure(sessionID, core.StatusUnknownError, fmt.Sprint(r), stack)
		}
		d.record(name, env.Status, time.Since(start))
	}()

	value, err := cmd()
	if err != nil {
		return Failure(name, sessionID, err)
	}
	return response.Success(sessionID, value)
}

func (d *Dispatcher) record(name string, status core.Status, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command", name),
		attribute.Int("status", int(status)),
	)
	ctx := context.Background()
	d.commands.Add(ctx, 1, attrs)
	d.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// Failure converts err into an error envelope using Rules.
func Failure(name, sessionID string, err error) response.Envelope {
	kind := classify(err)
	rule, ok := Lookup(kind)
	if !ok {
		logger.Error("%s: %v", name, err)
		return response.Failure(sessionID, core.StatusUnknownError, err.Error(), string(debug.Stack()))
	}

	switch rule.Log {
	case logDebug:
		logger.Debug("%s: %v", name, err)
	default:
		logger.Error("%s: %v", name, err)
	}

	msg := err.Error()
	if !rule.Echo {
		msg = rule.Status.String()
	}
	if kind == core.KindNoSuchContext {
		msg = NoSuchContextMessage
	}
	return response.Failure(sessionID, rule.Status, msg, "")
}

// classify finds the failure kind of err. Decoder errors from
// encoding/json count as malformed payloads.
func classify(err error) core.Kind {
	if k := core.KindOf(err); k != core.KindUnknown {
		return k
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return core.KindJSONDecode
	}
	return core.KindUnknown
}
