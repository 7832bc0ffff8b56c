// Command fips-installer is the FIPS mode management daemon.
//
// It serves mode status, the supported provider versions and enable/disable
// requests on a local Unix socket, and applies transitions by restarting the
// module generation service and patching the shared OpenSSL config.
//
// Usage:
//
//	fips-installer --config /etc/fips-installer/config.yaml
//	fips-installer --socket /tmp/fips.sock --history-db ""
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudflared-fips/fips-installer/internal/config"
	"github.com/cloudflared-fips/fips-installer/internal/gateway"
	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/ipc"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
	"github.com/cloudflared-fips/fips-installer/internal/opensslconf"
	"github.com/cloudflared-fips/fips-installer/pkg/buildinfo"
)

type flags struct {
	configPath  string
	socketPath  string
	historyPath string
	waitMode    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "fips-installer",
		Short:         "FIPS mode management daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Version = buildinfo.String()
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	cmd.Flags().StringVar(&f.configPath, "config", config.DefaultPath, "path to the daemon config file")
	cmd.Flags().StringVar(&f.socketPath, "socket", "", "override the IPC socket path")
	cmd.Flags().StringVar(&f.historyPath, "history-db", "", "override the journal database path (empty string disables it)")
	cmd.Flags().StringVar(&f.waitMode, "wait", "", "override the artifact wait strategy (timer or watch)")
	return cmd
}

// loadConfig reads the config file and applies any flags the user set.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("socket") {
		cfg.SocketPath = f.socketPath
	}
	if cmd.Flags().Changed("history-db") {
		cfg.HistoryPath = f.historyPath
	}
	if cmd.Flags().Changed("wait") {
		cfg.WaitStrategy = f.waitMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// daemon holds the wired components for one run.
type daemon struct {
	ctrl    *mode.Controller
	server  *ipc.Server
	journal *history.SQLiteStore
	logger  *log.Logger
}

func (d *daemon) Close() error {
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// newDaemon builds the controller and IPC server from cfg.
func newDaemon(ctx context.Context, cfg *config.Config, logger *log.Logger) (*daemon, error) {
	d := &daemon{logger: logger}

	opts := mode.Options{
		Profiles:     cfg.Profiles,
		ArtifactPath: cfg.ModuleConfig,
		Editor:       opensslconf.NewEditor(cfg.OpenSSLConfig, cfg.ModuleConfig),
		Restarter:    gateway.NewSystemd(cfg.Service.Unit, cfg.Service.JobMode, nil, logger),
		Waiter:       newWaiter(cfg, logger),
		Logger:       logger,
	}

	var hist ipc.HistoryLister
	if cfg.HistoryPath != "" {
		store, err := history.NewSQLiteStore(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		d.journal = store
		opts.Journal = store
		hist = store
	}

	ctrl, err := mode.NewController(ctx, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.ctrl = ctrl
	d.server = ipc.NewServer(cfg.SocketPath, ctrl, hist, logger)
	return d, nil
}

func newWaiter(cfg *config.Config, logger *log.Logger) mode.Waiter {
	delay := time.Duration(cfg.PollInterval)
	if cfg.WaitStrategy == config.WaitWatch {
		return mode.WatchWaiter{Delay: delay, Logger: logger}
	}
	return mode.TimerWaiter{Delay: delay}
}

func run(ctx context.Context, cfg *config.Config) error {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stderr, f)
	}
	logger := log.New(out, "[fips-installer] ", log.LstdFlags)

	logger.Printf("%s", buildinfo.String())
	logger.Printf("OpenSSL config: %s", cfg.OpenSSLConfig)
	logger.Printf("Module config: %s", cfg.ModuleConfig)
	logger.Printf("Service: %s (job mode %s)", cfg.Service.Unit, cfg.Service.JobMode)
	logger.Printf("Profiles: %v", cfg.Profiles)

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	st := d.ctrl.Status()
	logger.Printf("Startup status: enabled=%v version=%s", st.Enabled, st.Version)
	logger.Printf("Listening on %s", cfg.SocketPath)

	if err := d.server.Start(ctx); err != nil {
		return err
	}
	logger.Printf("Daemon stopped")
	return nil
}
