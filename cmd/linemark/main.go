// Package main is the entry point for the linemark CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dshills/linemark/internal/annotation"
	"github.com/dshills/linemark/internal/blobstore"
	"github.com/dshills/linemark/internal/config"
	"github.com/dshills/linemark/internal/log"
	"github.com/dshills/linemark/internal/metrics"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// closeTimeout bounds the final flush on exit.
const closeTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Handle signals for graceful shutdown; pending writes are flushed on
	// the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "linemark",
		Short: "Line-range annotations that follow document edits",
		Long: `linemark tracks annotations (notes, diagnostics, highlights, greyouts and
read marks) anchored to line ranges of documents, keeps them aligned as the
documents are edited, and persists them to a blob store.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. Config file (--config, TOML or YAML)
  3. .env file (--env-file, or .env in the current directory)
  4. Environment variables

Environment variables:
  LINEMARK_MERGE_WINDOW    Coalescing window, e.g. 5m (0 disables merging)
  LINEMARK_FLUSH_DELAY     Write-behind quiet period, e.g. 300ms
  LINEMARK_STORE_BACKEND   file, sqlite, postgres or memory (default: file)
  LINEMARK_STORE_PATH      JSON state file (default: .linemark/state.json)
  LINEMARK_DB_URL          sqlite:///path.db or postgres://...
  LINEMARK_STORE_WATCH     Reload clean documents when the state file changes
  LINEMARK_LOG_LEVEL       DEBUG, INFO, WARN, ERROR (default: INFO)
  LINEMARK_LOG_FORMAT      text or json (default: text)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("LINEMARK_CONFIG"), "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	cmd.AddCommand(
		markCmd(opts),
		readCmd(opts),
		unmarkCmd(opts),
		editCmd(opts),
		countCmd(opts),
		listCmd(opts),
		noteCmd(opts),
		rmCmd(opts),
		serveCmd(opts),
		versionCmd(),
	)
	return cmd
}

// app holds everything a command needs.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    blobstore.Store
	tracker  *annotation.Tracker
	registry *prometheus.Registry
	out      io.Writer
}

func openApp(ctx context.Context, opts *globalOptions, out, errOut io.Writer) (*app, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	logger := log.New(errOut, cfg.Log)

	store, err := blobstore.Open(ctx, cfg.Store.Backend, cfg.Location(), logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	registry := prometheus.NewRegistry()
	tracker := annotation.NewTracker(store,
		annotation.WithMergeWindow(cfg.Merge.Window.Std()),
		annotation.WithFlushDelay(cfg.Persist.FlushDelay.Std()),
		annotation.WithLogger(logger),
		annotation.WithMetrics(metrics.New(registry)),
		annotation.WithFlushErrorHandler(func(err error) {
			logger.Error("background flush failed", "error", err)
		}),
	)

	logger.Debug("store opened", "backend", cfg.Store.Backend, "location", cfg.Location())
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		tracker:  tracker,
		registry: registry,
		out:      out,
	}, nil
}

// Close force-flushes pending records and closes the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.tracker.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and always closes the app afterwards so
// nothing written by fn is lost.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		// An interrupt cancels ctx; the final flush must still run.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := a.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, a)
}

func parseLine(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not a number", name, s)
	}
	return n, nil
}

// parseSpan reads "<start> [end]" arguments; end defaults to start.
func parseSpan(args []string) (int, int, error) {
	start, err := parseLine(args[0], "start line")
	if err != nil {
		return 0, 0, err
	}
	end := start
	if len(args) > 1 {
		if end, err = parseLine(args[1], "end line"); err != nil {
			return 0, 0, err
		}
	}
	return start, end, nil
}
