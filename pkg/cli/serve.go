package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uia2-server/pkg/cache"
	"github.com/devicelab-dev/uia2-server/pkg/commands"
	"github.com/devicelab-dev/uia2-server/pkg/config"
	"github.com/devicelab-dev/uia2-server/pkg/dispatch"
	"github.com/devicelab-dev/uia2-server/pkg/lifecycle"
	"github.com/devicelab-dev/uia2-server/pkg/logger"
	"github.com/devicelab-dev/uia2-server/pkg/server"
	"github.com/devicelab-dev/uia2-server/pkg/session"
	"github.com/devicelab-dev/uia2-server/pkg/settings"
	"github.com/devicelab-dev/uia2-server/pkg/telemetry"
	"github.com/devicelab-dev/uia2-server/pkg/uitree"
	"github.com/devicelab-dev/uia2-server/pkg/uitree/fake"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the automation server",
	Description: `Start listening for automation commands. The server stops when the
session is deleted, when the device is unplugged from power (unless the
shutdownOnPowerDisconnect setting is off) or on SIGINT/SIGTERM.

Examples:
  uia2-server serve --tree fixtures/login.yaml
  uia2-server serve --host 127.0.0.1 --port 7000 --metrics`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Usage:   "Address to bind",
			EnvVars: []string{"UIA2_SERVER_HOST"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   fmt.Sprintf("Port to listen on (%d-%d, default %d)", lifecycle.MinPort, lifecycle.MaxPort, config.DefaultPort),
			EnvVars: []string{"UIA2_SERVER_PORT"},
		},
		&cli.StringFlag{
			Name:    "tree",
			Usage:   "UI tree fixture (YAML) to serve",
			EnvVars: []string{"UIA2_SERVER_TREE"},
		},
		&cli.StringFlag{
			Name:    "wake-lock-dir",
			Usage:   "Directory holding the wake_lock and wake_unlock files",
			EnvVars: []string{"UIA2_SERVER_WAKE_LOCK_DIR"},
		},
		&cli.BoolFlag{
			Name:  "no-wake-display",
			Usage: "Do not wake the display when the server starts",
		},
		&cli.StringFlag{
			Name:    "power-supply-file",
			Usage:   "Power supply status file to watch for disconnects",
			EnvVars: []string{"UIA2_SERVER_POWER_SUPPLY_FILE"},
		},
		&cli.BoolFlag{
			Name:    "metrics",
			Usage:   "Collect command metrics and log a summary on exit",
			EnvVars: []string{"UIA2_SERVER_METRICS"},
		},
	},
	Action: runServe,
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("tree") {
		cfg.Tree = c.String("tree")
	}
	if c.IsSet("wake-lock-dir") {
		cfg.WakeLockDir = c.String("wake-lock-dir")
	}
	if c.Bool("no-wake-display") {
		wake := false
		cfg.WakeDisplay = &wake
	}
	if c.IsSet("power-supply-file") {
		cfg.PowerSupplyFile = c.String("power-supply-file")
	}
	if c.Bool("metrics") {
		cfg.Metrics = true
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.LogFile != "" {
		path := config.ResolvePath(cfg.LogFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		if err := logger.Init(path); err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
	} else {
		logger.InitWriter(os.Stderr)
	}
	logger.SetLevel(level)
	return nil
}

func loadTree(cfg *config.Config) (uitree.Query, error) {
	if cfg.Tree == "" {
		return nil, fmt.Errorf("no UI tree available: set --tree or 'tree' in uia2-server.yaml")
	}
	tree, err := fake.Load(config.ResolvePath(cfg.Tree))
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	return tree, nil
}

func wakeLock(cfg *config.Config) lifecycle.WakeLock {
	if _, err := os.Stat(filepath.Join(cfg.WakeLockDir, "wake_lock")); err != nil {
		logger.Debug("no wake lock interface in %s: %v", cfg.WakeLockDir, err)
		return lifecycle.NopWakeLock{}
	}
	return lifecycle.NewSysfsWakeLock(cfg.WakeLockDir)
}

func display(cfg *config.Config) lifecycle.Display {
	if cfg.WakeDisplay != nil && !*cfg.WakeDisplay {
		return lifecycle.NopDisplay{}
	}
	d := lifecycle.NewInputDisplay()
	if _, err := exec.LookPath(d.Path); err != nil {
		logger.Debug("display wake disabled: %v", err)
		return lifecycle.NopDisplay{}
	}
	return d
}

// instance is the wired server process.
type instance struct {
	cfg       *config.Config
	sessions  *session.Registry
	holder    *lifecycle.Holder
	telemetry *telemetry.Provider
}

func newInstance(ctx context.Context, cfg *config.Config, query uitree.Query, lock lifecycle.WakeLock, disp lifecycle.Display) (*instance, error) {
	tp, err := telemetry.Init(ctx, cfg.Metrics, Version)
	if err != nil {
		return nil, err
	}
	d, err := dispatch.New(tp.Meter)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	sessions := session.NewRegistry(query, &cache.Sequence{}, cfg.Settings)
	env := &commands.Env{
		Sessions: sessions,
		Injector: commands.LogInjector{},
		Version:  Version,
	}
	handler := server.New(env, d)

	holder := lifecycle.NewHolder(func() (*lifecycle.Server, error) {
		return lifecycle.NewServer(lifecycle.Options{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Handler:  handler,
			WakeLock: lock,
			Display:  disp,
		})
	})
	holder.ShutdownOnDisconnect = func() bool {
		s := sessions.Current()
		if s == nil {
			return true
		}
		return s.Settings.Bool(settings.ShutdownOnPowerDisconnect)
	}
	// Stop waits for in-flight requests, including the delete itself.
	env.OnSessionDeleted = func() {
		if s := holder.Current(); s != nil {
			go s.Stop()
		}
	}

	return &instance{cfg: cfg, sessions: sessions, holder: holder, telemetry: tp}, nil
}

// start brings the listener and the power monitor up.
func (r *instance) start(ctx context.Context) (*lifecycle.Server, error) {
	srv, err := r.holder.Get()
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}

	monitor := lifecycle.NewPowerMonitor(r.cfg.PowerSupplyFile)
	if err := monitor.Start(ctx); err != nil {
		logger.Info("power monitoring disabled: %v", err)
	} else {
		go monitor.Run(r.holder)
	}
	return srv, nil
}

// wait blocks until the server stops or ctx is canceled.
func (r *instance) wait(ctx context.Context, srv *lifecycle.Server) {
	select {
	case <-srv.Done():
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		srv.Stop()
	}
}

func (r *instance) close() {
	ctx := context.Background()
	if summary, err := r.telemetry.Summary(ctx); err != nil {
		logger.Warn("metrics summary: %v", err)
	} else if summary != "" {
		logger.Info("commands: %s", summary)
	}
	if err := r.telemetry.Shutdown(ctx); err != nil {
		logger.Warn("metrics shutdown: %v", err)
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logger.Close()

	printSetupStep("Loading UI tree...")
	query, err := loadTree(cfg)
	if err != nil {
		return err
	}
	printSetupSuccess(fmt.Sprintf("UI tree loaded from %s", cfg.Tree))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newInstance(ctx, cfg, query, wakeLock(cfg), display(cfg))
	if err != nil {
		return err
	}
	defer rt.close()

	srv, err := rt.start(ctx)
	if err != nil {
		return err
	}
	printSetupSuccess(fmt.Sprintf("Listening on %s", srv.Addr()))

	rt.wait(ctx, srv)
	fmt.Printf("\n%sServer stopped%s\n", color(colorBold), color(colorReset))
	return nil
}
