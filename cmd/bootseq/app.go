package main

import (
	"context"
	"sync/atomic"

	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mkock/bootseq/v3"
	"github.com/mkock/bootseq/v3/fragment"
	"github.com/mkock/bootseq/v3/internal/config"
	"github.com/mkock/bootseq/v3/metrics"
	"github.com/mkock/bootseq/v3/script"
	"github.com/mkock/bootseq/v3/tracing"
)

// App is the application booted by the run command.
type App struct {
	*bootseq.Sequencer[*App]

	Config *koanf.Koanf // Configuration merged from fragments.
	Log    *zap.Logger

	ready atomic.Bool
}

// newApp returns an App whose boot sequence runs the initializer directory of cfg, then marks the App as ready.
func newApp(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) *App {
	app := &App{Config: koanf.New("."), Log: log}
	app.Sequencer = bootseq.New(app,
		bootseq.WithLogger(log),
		bootseq.WithObserver(metrics.New(reg), tracing.New(nil)),
		bootseq.WithPhaseErrors(),
	)

	loader := bootseq.Loaders(
		script.New(log),
		fragment.New(app.Config, log),
	)
	app.Phase(bootseq.Named("initializers", bootseq.Initializers[*App](bootseq.DirConfig{
		Dirname:    cfg.Init.Dirname,
		Extensions: cfg.Init.Extensions,
		Loader:     loader,
	})))
	app.Phase(bootseq.Named("ready", bootseq.Func[*App](markReady)))
	return app
}

func markReady(_ context.Context, app *App) error {
	app.ready.Store(true)
	app.Log.Info("application ready", zap.Int("config_keys", len(app.Config.Keys())))
	return nil
}

// Ready reports whether the boot sequence has completed.
func (a *App) Ready() bool {
	return a.ready.Load()
}
