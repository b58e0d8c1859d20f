package bootstrap

import (
	"context"
	"dlob_engine/pkg/logging"
	"dlob_engine/pkg/telemetry"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg       *Config
	Logger    *logging.ZapLogger
	Telemetry *telemetry.Telemetry
}

// NewApp loads configuration and brings up telemetry and logging
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		// the logger bridges to the OTel log provider, so telemetry comes first
		if tel, err = telemetry.Setup(cfg.App.Name); err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
	}, nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts every runner and blocks until a termination signal arrives or one of
// them fails; the first failure cancels the others.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with a caller-supplied context
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application", "runners", len(runners))

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// Close flushes logs and shuts telemetry down
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	// Sync on stdout returns EINVAL on some platforms
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
