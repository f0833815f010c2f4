// Package cli provides the command-line interface for uia2-server.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to uia2-server.yaml (default: <home>/uia2-server.yaml)",
		EnvVars: []string{"UIA2_SERVER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write logs to this file",
		EnvVars: []string{"UIA2_SERVER_LOG_FILE"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{"UIA2_SERVER_LOG_LEVEL"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"UIA2_SERVER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "uia2-server",
		Usage:   "On-device UI automation command server",
		Version: Version,
		Description: `uia2-server accepts WebDriver-style automation commands over HTTP
and executes them against the device UI tree.

Examples:
  uia2-server serve --tree fixtures/login.yaml
  uia2-server serve --port 6790 --log-level debug
  uia2-server probe --url http://127.0.0.1:6790 --find "id=login"`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			probeCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
