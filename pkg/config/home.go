package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "UIA2_SERVER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the uia2-server home directory.
//
// Resolution order:
//  1. $UIA2_SERVER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogDir returns <home>/logs.
func GetLogDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetFixturesDir returns <home>/fixtures, where UI tree fixtures live.
func GetFixturesDir() string {
	return filepath.Join(GetHome(), "fixtures")
}

// ResolvePath makes a relative path relative to the home directory.
func ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GetHome(), p)
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// Binary-relative: if binary is at <home>/bin/uia2-server, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
