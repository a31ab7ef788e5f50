package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/httpapi"
	"github.com/roach88/boardflow/internal/metrics"
	"github.com/roach88/boardflow/internal/scheduler"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Rules       string
	HTTPAddr    string
	NoScheduler bool

	// Ready, if set, receives the HTTP listener address once serving.
	Ready func(addr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the dispatcher, schedulers and HTTP API",
		Long: `Start the boardflow engine.

The engine opens the SQLite database (creating it if it doesn't exist),
optionally applies a CUE rule bundle, and then runs until interrupted:
  - the dispatcher worker pool, fed by POST /boards/{id}/events
  - the recurrence scheduler and the due-date watcher
  - the HTTP API with /healthz and /metrics

Example:
  boardflow run --db ./boardflow.db --rules ./rules
  boardflow run --config ./boardflow.yaml --http :9090 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rules, "rules", "", "CUE file or directory to apply before starting")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http", "", "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not run the recurrence scheduler or due-date watcher")

	return cmd
}

func runServer(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if opts.Rules != "" {
		summary, err := applyBundle(ctx, a, opts.Rules)
		if err != nil {
			return reportApplyError(newFormatter(opts.RootOptions, cmd), err)
		}
		slog.Info("rules applied", "path", opts.Rules,
			"rules_created", summary.RulesCreated, "rules_updated", summary.RulesUpdated,
			"recurring_created", summary.RecurringCreated, "recurring_updated", summary.RecurringUpdated)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dispatcher := a.newDispatcher(m)
	api := httpapi.New(dispatcher, a.store, a.store, reg, slog.Default())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if !cfg.Scheduler.Disabled && !opts.NoScheduler {
		sched := scheduler.New(a.rules, a.store, dispatcher,
			scheduler.WithInterval(cfg.Scheduler.Interval),
			scheduler.WithMetrics(m),
		)
		due := scheduler.NewDueWatcher(a.store, dispatcher, engine.SystemClock{}, m, cfg.Scheduler.DueInterval)
		g.Go(func() error { return sched.Run(gctx) })
		g.Go(func() error { return due.Run(gctx) })
	}
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		dispatcher.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	addr := listener.Addr().String()
	slog.Info("boardflow started", "db", cfg.Database, "http", addr, "workers", cfg.Engine.Workers)
	fmt.Fprintf(cmd.OutOrStdout(), "boardflow listening on %s\n", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("boardflow stopped gracefully")
	return nil
}
