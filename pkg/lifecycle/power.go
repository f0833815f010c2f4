package lifecycle

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devicelab-dev/uia2-server/pkg/logger"
)

// PowerEvent is a change of the power supply.
type PowerEvent int

const (
	PowerUnknown PowerEvent = iota
	PowerConnected
	PowerDisconnected
)

func (e PowerEvent) String() string {
	switch e {
	case PowerConnected:
		return "connected"
	case PowerDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ParsePowerStatus maps the content of a power supply file (an "online"
// flag or a battery "status") to an event.
func ParsePowerStatus(s string) PowerEvent {
	switch strings.TrimSpace(s) {
	case "1", "Charging", "Full":
		return PowerConnected
	case "0", "Discharging", "Not charging":
		return PowerDisconnected
	}
	return PowerUnknown
}

// DefaultPowerPollInterval is how often a PowerMonitor re-reads its file.
const DefaultPowerPollInterval = 2 * time.Second

// PowerMonitor watches a power supply file and reports transitions.
//
// sysfs attributes usually change without raising inotify events, so the
// file is also re-read every Interval. Interval <= 0 relies on the watcher
// alone.
type PowerMonitor struct {
	Interval time.Duration

	path   string
	events chan PowerEvent
}

// NewPowerMonitor watches path, for example
// /sys/class/power_supply/usb/online.
func NewPowerMonitor(path string) *PowerMonitor {
	return &PowerMonitor{
		Interval: DefaultPowerPollInterval,
		path:     path,
		events:   make(chan PowerEvent, 4),
	}
}

// Events delivers transitions. It is closed when the monitor stops.
func (m *PowerMonitor) Events() <-chan PowerEvent {
	return m.events
}

func (m *PowerMonitor) read() PowerEvent {
	data, err := os.ReadFile(m.path)
	if err != nil {
		logger.Debug("read %s: %v", m.path, err)
		return PowerUnknown
	}
	return ParsePowerStatus(string(data))
}

// Start begins watching until ctx is canceled.
func (m *PowerMonitor) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(m.path); err != nil {
		fsw.Close()
		return err
	}

	last := m.read()
	logger.Debug("watching %s, power is %s", m.path, last)

	go func() {
		defer fsw.Close()
		defer close(m.events)

		var tick <-chan time.Time
		if m.Interval > 0 {
			ticker := time.NewTicker(m.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		// check reports whether the monitor should keep running.
		check := func() bool {
			state := m.read()
			if state == PowerUnknown || state == last {
				return true
			}
			last = state
			select {
			case m.events <- state:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				if !check() {
					return
				}
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !check() {
					return
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("power monitor error: %v", err)
			}
		}
	}()
	return nil
}

// Run forwards power events to h until the monitor stops.
func (m *PowerMonitor) Run(h *Holder) {
	for ev := range m.events {
		h.HandlePower(ev)
	}
}
