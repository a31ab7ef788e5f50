package cli

import (
	"log/slog"

	"github.com/roach88/boardflow/internal/config"
	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/metrics"
	"github.com/roach88/boardflow/internal/rulestore"
	"github.com/roach88/boardflow/internal/store"
)

// app is the store-backed wiring shared by commands.
type app struct {
	cfg   *config.Config
	store *store.Store
	rules *rulestore.Service
}

// openApp loads configuration, applies flag overrides and opens the
// database. The caller must Close the app.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return &app{cfg: cfg, store: st, rules: rulestore.New(st)}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// newDispatcher builds a dispatcher over the app's store using the
// engine section of the config. extra options are applied last.
func (a *app) newDispatcher(m *metrics.Metrics, extra ...engine.Option) *engine.Dispatcher {
	ec := a.cfg.Engine
	exec := engine.NewExecutor(a.store, a.store, engine.NewHTTPWebhookSender(ec.WebhookTimeout),
		engine.WithActionTimeout(ec.ActionTimeout),
		engine.WithWebhookTimeout(ec.WebhookTimeout),
	)
	opts := []engine.Option{
		engine.WithWorkers(ec.Workers),
		engine.WithGuard(engine.NewLoopGuard(ec.MaxChainDepth, ec.RateLimit, ec.RateWindow)),
		engine.WithFailureThreshold(ec.FailureThreshold),
		engine.WithFailureTracker(a.rules),
		engine.WithNotifier(a.store),
		engine.WithMetrics(m),
	}
	return engine.NewDispatcher(a.rules, a.store, exec, a.store, append(opts, extra...)...)
}
