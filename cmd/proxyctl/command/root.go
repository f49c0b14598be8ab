package command

// root.go defines the root command for proxyctl and the shared bus
// connection every subcommand uses.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"proxysync/internal/config"
	"proxysync/internal/crossproxy"
	"proxysync/internal/logging"
)

var (
	timeout time.Duration // bound for connecting and flushing
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "proxyctl",
	Short: "proxyctl - operate a proxysync cluster",
	Long: `proxyctl joins the cluster bus as a short-lived instance, publishes one
network action or reads presence, and exits. It reads the same environment
(and .env file) as the proxy servers: REDIS_URL, SYNC_SECRET, SYNC_BACKEND...

Use "proxyctl command -h" to see all available commands.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "connect and flush timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log bus activity")
}

// discard ignores bus traffic; proxyctl only publishes.
type discard struct{}

func (discard) Receive(context.Context, string) {}

// connect starts a transport client with a throwaway identity.
func connect(ctx context.Context) (*crossproxy.Client, error) {
	sc, err := config.LoadSyncConfig()
	if err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	logger := logging.NewWithWriter(os.Stderr, level, sc.LogFormat)
	slog.SetDefault(logger)

	opts := sc.ClientOptions("proxyctl-" + uuid.NewString())
	opts.Enabled = true
	opts.DialTimeout = timeout
	client := crossproxy.NewClient(opts, discard{}, logger)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("connect to cluster: %w", err)
	}
	return client, nil
}
