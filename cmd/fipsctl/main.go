// Command fipsctl queries and controls the fips-installer daemon.
//
// Usage:
//
//	fipsctl status
//	fipsctl providers
//	fipsctl enable 3.0.9
//	fipsctl disable
//	fipsctl history --limit 20
//	fipsctl watch            # live terminal monitor
//	fipsctl watch --plain    # one line per status change
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cloudflared-fips/fips-installer/internal/config"
	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/ipc"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
	"github.com/cloudflared-fips/fips-installer/internal/tui/status"
	"github.com/cloudflared-fips/fips-installer/pkg/buildinfo"
)

// defaultTimeout outlasts the longest poll-interval the daemon accepts plus
// the restart job, so enable does not give up while the daemon carries on.
const defaultTimeout = config.MaxPollInterval + time.Minute

type globalFlags struct {
	socketPath string
	jsonOutput bool
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "fipsctl",
		Short:         "Query and control FIPS mode through fips-installer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = buildinfo.String()
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.PersistentFlags().StringVar(&g.socketPath, "socket", ipc.DefaultSocketPath, "daemon socket path")
	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "print results as JSON")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", defaultTimeout,
		"request timeout; covers the daemon's longest allowed artifact wait (0 disables)")

	root.AddCommand(
		newStatusCmd(g),
		newProvidersCmd(g),
		newEnableCmd(g),
		newDisableCmd(g),
		newHistoryCmd(g),
		newWatchCmd(g),
		newPingCmd(g),
	)
	return root
}

// withClient dials the daemon and runs fn under the request timeout.
func withClient(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, c *ipc.Client) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	c, err := ipc.Dial(ctx, g.socketPath)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer c.Close()
	return fn(ctx, c)
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether FIPS mode is enabled and which version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, func(ctx context.Context, c *ipc.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
				return out.Print(st, formatStatus(st))
			})
		},
	}
}

func newProvidersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the FIPS provider versions the daemon supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, func(ctx context.Context, c *ipc.Client) error {
				providers, err := c.Providers(ctx)
				if err != nil {
					return err
				}
				out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
				return out.Print(ipc.ProvidersResult{AvailableProviders: providers}, formatProviders(providers))
			})
		},
	}
}

func newEnableCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <version>",
		Short: "Enable FIPS mode with the given provider version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, g, func(ctx context.Context, c *ipc.Client) error {
				res, err := c.Enable(ctx, args[0])
				out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
				return out.Result("FIPS mode enabled ("+args[0]+")", res, err)
			})
		},
	}
}

func newDisableCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Return OpenSSL to standard mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, func(ctx context.Context, c *ipc.Client) error {
				res, err := c.Disable(ctx)
				out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
				return out.Result("FIPS mode disabled", res, err)
			})
		},
	}
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent mode transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			return withClient(cmd, g, func(ctx context.Context, c *ipc.Client) error {
				entries, err := c.History(ctx, limit)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []history.Entry{}
				}
				out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
				return out.Print(entries, formatHistory(entries))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "number of entries to show")
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		plain    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor FIPS mode live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if plain || g.jsonOutput {
				return watchPlain(cmd, g)
			}
			p := tea.NewProgram(status.NewStatusModel(g.socketPath, interval), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per status change instead of the monitor")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "monitor refresh interval")
	return cmd
}

// watchPlain streams status changes until interrupted.
func watchPlain(cmd *cobra.Command, g *globalFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := ipc.Dial(ctx, g.socketPath)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer c.Close()

	out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
	err = c.Watch(ctx, func(st mode.Status) error {
		return out.Line(st, time.Now().Format("15:04:05")+" "+formatStatus(st))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newPingCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, func(ctx context.Context, c *ipc.Client) error {
				res, err := c.Ping(ctx)
				if err != nil {
					return err
				}
				out := newOutputFormatter(cmd.OutOrStdout(), g.jsonOutput)
				return out.Print(res, fmt.Sprintf("%s (daemon %s, object %s)", res.Status, res.Version, res.ObjectPath))
			})
		},
	}
}
