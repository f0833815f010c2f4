package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// WakeLockTag names the wake lock held while serving.
const WakeLockTag = "UiAutomator2:ScreenKeeper"

// MaxWakeLockDuration caps how long a single wake lock is held.
const MaxWakeLockDuration = 24 * time.Hour

// WakeLock keeps the device from sleeping.
type WakeLock interface {
	Acquire() error
	Release() error
}

// Display turns the screen on.
type Display interface {
	Wake(ctx context.Context) error
}

// NopWakeLock does nothing.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release() error { return nil }

// NopDisplay does nothing.
type NopDisplay struct{}

func (NopDisplay) Wake(context.Context) error { return nil }

// SysfsWakeLock uses the kernel wake lock interface under Dir
// (normally /sys/power).
type SysfsWakeLock struct {
	Dir string
	Tag string
}

// NewSysfsWakeLock returns a wake lock writing to dir with the default tag.
func NewSysfsWakeLock(dir string) *SysfsWakeLock {
	return &SysfsWakeLock{Dir: dir, Tag: WakeLockTag}
}

// Acquire writes "<tag> <timeout ns>" to wake_lock.
func (w *SysfsWakeLock) Acquire() error {
	entry := fmt.Sprintf("%s %d", w.Tag, MaxWakeLockDuration.Nanoseconds())
	return w.write("wake_lock", entry)
}

// Release writes the tag to wake_unlock.
func (w *SysfsWakeLock) Release() error {
	return w.write("wake_unlock", w.Tag)
}

func (w *SysfsWakeLock) write(name, value string) error {
	path := filepath.Join(w.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// CommandDisplay wakes the screen by running a shell command.
type CommandDisplay struct {
	Path string
	Args []string
}

// NewInputDisplay returns a display waker using "input keyevent KEYCODE_WAKEUP".
func NewInputDisplay() *CommandDisplay {
	return &CommandDisplay{Path: "input", Args: []string{"keyevent", "KEYCODE_WAKEUP"}}
}

// Wake runs the command.
func (d *CommandDisplay) Wake(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, d.Path, d.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = stdout.String()
		}
		return fmt.Errorf("%s %s: %w: %s", d.Path, strings.Join(d.Args, " "), err, strings.TrimSpace(errMsg))
	}
	return nil
}
