package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/app"
	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/metrics"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Version is set at build time.
var Version = "dev"

var (
	// Global flags
	cfgFile     string
	logLevel    string
	logFormat   string
	metricsAddr string

	rootContext context.Context
)

const closeTimeout = 10 * time.Second

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "waypoint",
		Short: "Browse local, in-memory, SFTP and S3 locations",
		Long: `waypoint navigates file locations through one asynchronous pipeline.

Locations are URIs (file:///home/me, sftp://host:22/srv, s3://bucket/prefix)
or plain paths, which are taken as local files.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default ~/.config/waypoint/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd
}

// AddCommands registers every subcommand.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newRootsCmd())
	rootCmd.AddCommand(newDfCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newCopyCmd(false))
	rootCmd.AddCommand(newCopyCmd(true))
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newBookmarkCmd())
}

// Execute runs the command line until it finishes or a signal arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootContext = ctx

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	return rootCmd.ExecuteContext(ctx)
}

// GetContext returns the signal-aware context.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// withApp opens an instance, runs fn and closes the instance.
func withApp(opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx := GetContext()
	opts.ConfigPath = cfgFile
	opts.LogLevel = logLevel
	opts.LogFormat = logFormat

	a, err := app.Open(ctx, opts)
	if err != nil {
		return err
	}
	stopMetrics := serveMetrics()

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	stopMetrics(closeCtx)
	if err := a.Close(closeCtx); err != nil {
		logging.Warn("shutdown incomplete", zap.Error(err))
	}
	if errors.Is(runErr, vfs.ErrCancelled) && ctx.Err() != nil {
		return nil
	}
	return runErr
}

func serveMetrics() func(context.Context) {
	if metricsAddr == "" {
		return func(context.Context) {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", zap.String("addr", metricsAddr), zap.Error(err))
		}
	}()
	debug.Log(debug.CLI, "metrics on %s", metricsAddr)
	return func(ctx context.Context) {
		_ = srv.Shutdown(ctx)
	}
}

// parseLocations parses every argument as a location.
func parseLocations(args []string) ([]vfs.Location, error) {
	out := make([]vfs.Location, 0, len(args))
	for _, arg := range args {
		loc, err := vfs.Parse(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}
