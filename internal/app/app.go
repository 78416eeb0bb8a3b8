// Package app builds every component once from a Config and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"airdrop_manager/internal/analytics"
	"airdrop_manager/internal/browser"
	"airdrop_manager/internal/config"
	"airdrop_manager/internal/httpapi"
	"airdrop_manager/internal/logbus"
	"airdrop_manager/internal/metrics"
	"airdrop_manager/internal/notify"
	"airdrop_manager/internal/proxy"
	"airdrop_manager/internal/randx"
	"airdrop_manager/internal/scheduler"
	"airdrop_manager/internal/secret"
	"airdrop_manager/internal/store"
	"airdrop_manager/internal/store/mongo"
	"airdrop_manager/internal/store/sqlite"
	"airdrop_manager/internal/vault"
)

type Options struct {
	Config config.Config
	// ConfigPath enables hot reload of pacing and concurrency when set.
	ConfigPath string
	Logger     *zap.Logger
	// Driver overrides the browser driver chosen by browser.driver.
	Driver browser.Driver
	// Interactions overrides the default page routines.
	Interactions *scheduler.Registry
}

type App struct {
	mu         sync.Mutex
	cfg        config.Config
	configPath string
	logger     *zap.Logger

	Bus       *logbus.Bus
	Store     store.Store
	Vault     *vault.Vault
	Proxies   *proxy.Pool
	Sessions  *browser.Pool
	Analytics *analytics.Analytics
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Collector

	rdb      *redis.Client
	sweeper  *proxy.Sweeper
	notifier *notify.EmailNotifier
	api      *httpapi.Server
}

// New wires the application. On error everything opened so far is closed.
func New(ctx context.Context, opts Options) (_ *App, err error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = zap.NewNop()
	}

	a := &App{cfg: cfg, configPath: opts.ConfigPath}
	a.Bus = logbus.New(cfg.Log.BusCapacity)
	a.logger = logbus.Tee(base, a.Bus, zapcore.WarnLevel)
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
		}
	}()

	if cfg.Metrics.IsEnabled() {
		a.Metrics = metrics.New(metrics.DefaultNamespace, a.logger)
	}

	if a.Store, err = openStore(ctx, cfg.Storage); err != nil {
		return nil, err
	}

	cipher, err := secret.New(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("secrets.encryptionKey: %w", err)
	}
	sampler := randx.New(cfg.Scheduler.Seed)

	a.Vault = vault.New(a.Store, cipher, sampler, a.logger)

	cache, err := a.probeCache(ctx, cfg.Proxy.Cache)
	if err != nil {
		return nil, err
	}
	popts := proxy.Options{
		Store:            a.Store,
		Cipher:           cipher,
		Prober:           proxy.NewRestyProber(cfg.Proxy.ProbeURL, cfg.Proxy.ProbeTimeout()),
		Cache:            cache,
		Sampler:          sampler,
		Logger:           a.logger,
		TestInterval:     cfg.Proxy.TestInterval(),
		ProbeTimeout:     cfg.Proxy.ProbeTimeout(),
		SweepConcurrency: cfg.Proxy.SweepConcurrency,
	}
	if a.Metrics != nil {
		popts.Metrics = a.Metrics
	}
	a.Proxies = proxy.New(popts)
	if err := a.Proxies.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load proxies: %w", err)
	}
	if a.sweeper, err = proxy.NewSweeper(a.Proxies, cfg.Proxy.SweepSchedule, 0, a.logger); err != nil {
		return nil, fmt.Errorf("proxy.sweepSchedule: %w", err)
	}

	driver := opts.Driver
	if driver == nil {
		driver = newDriver(cfg.Browser)
	}
	bopts := browser.Options{
		Driver:        driver,
		Proxies:       a.Proxies,
		Sampler:       sampler,
		Logger:        a.logger,
		ProfilesDir:   cfg.Browser.ProfilesDir,
		MaxConcurrent: cfg.Browser.MaxConcurrent,
		MemoryMB:      cfg.Browser.MemoryMB,
		Headless:      cfg.Browser.IsHeadless(),
		BinPath:       cfg.Browser.BinPath,
		ViewportW:     cfg.Browser.ViewportW,
		ViewportH:     cfg.Browser.ViewportH,
		NavTimeout:    cfg.Browser.NavTimeout(),
		BlockPatterns: cfg.Browser.BlockPatterns,
		UserAgents:    cfg.Browser.UserAgents,
	}
	if a.Metrics != nil {
		bopts.Metrics = a.Metrics
	}
	if a.Sessions, err = browser.New(bopts); err != nil {
		return nil, err
	}

	a.Analytics = analytics.New(a.Store, a.Vault, a.Bus, a.logger)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Email.Enabled {
		if a.notifier, err = notify.NewEmailNotifier(notify.EmailOptions{
			Config:        cfg.Notify.Email,
			Logger:        a.logger,
			SummaryWindow: cfg.Notify.Email.SummaryWindow(),
		}); err != nil {
			return nil, fmt.Errorf("notify.email: %w", err)
		}
		notifier = a.notifier
	}

	sopts := scheduler.Options{
		Accounts:     a.Vault,
		Sessions:     a.Sessions,
		Recorder:     a.Analytics,
		Events:       a.Bus,
		Notifier:     notifier,
		Interactions: opts.Interactions,
		Sampler:      sampler,
		Logger:       a.logger,
		MinDelay:     cfg.Scheduler.MinDelay(),
		MaxDelay:     cfg.Scheduler.MaxDelay(),
		RetryBudget:  cfg.Scheduler.RetryBudget,
		GlobalQPS:    cfg.Scheduler.GlobalQPS,
		GlobalBurst:  cfg.Scheduler.GlobalBurst,
		Backoff: scheduler.BackoffOptions{
			Initial:    cfg.Scheduler.Backoff.Initial(),
			Max:        cfg.Scheduler.Backoff.Max(),
			Multiplier: cfg.Scheduler.Backoff.Multiplier,
		},
	}
	if a.Metrics != nil {
		sopts.Metrics = a.Metrics
	}
	a.Scheduler = scheduler.New(sopts)

	hopts := httpapi.Options{
		Cfg:       cfg,
		Bus:       a.Bus,
		Logger:    a.logger,
		Scheduler: a.Scheduler,
		Vault:     a.Vault,
		Proxies:   a.Proxies,
		Sessions:  a.Sessions,
		Analytics: a.Analytics,
	}
	if a.Metrics != nil {
		hopts.Metrics = a.Metrics
		hopts.MetricsHandler = a.Metrics.Handler()
		hopts.MetricsPath = cfg.Metrics.Path
	}
	a.api = httpapi.New(hopts)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "mongo":
		st, err := mongo.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Timeout())
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return st, nil
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	}
}

func (a *App) probeCache(ctx context.Context, cfg config.CacheConfig) (proxy.TestCache, error) {
	if cfg.Driver != "redis" {
		return proxy.NewMemoryCache(), nil
	}
	a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return proxy.NewRedisCache(a.rdb, cfg.Prefix), nil
}

func newDriver(cfg config.BrowserConfig) browser.Driver {
	if cfg.Driver == "playwright" {
		return browser.NewPlaywrightDriver(cfg.InstallBrowsers)
	}
	return browser.NewRodDriver()
}

func (a *App) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) Handler() http.Handler { return a.api.Handler() }

// Reconfigure applies the settings that can change without a restart:
// session ceiling, pacing and retry budget. Everything else is logged as
// needing a restart.
func (a *App) Reconfigure(cfg config.Config) {
	a.Sessions.SetMaxConcurrent(cfg.Browser.MaxConcurrent)
	a.Scheduler.SetPacing(cfg.Scheduler.MinDelay(), cfg.Scheduler.MaxDelay())
	a.Scheduler.SetRetryBudget(cfg.Scheduler.RetryBudget)

	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.Storage != a.cfg.Storage || cfg.Server.Addr != a.cfg.Server.Addr || cfg.Browser.Driver != a.cfg.Browser.Driver {
		a.logger.Warn("storage, server or driver changes need a restart")
	}
	a.cfg.Browser.MaxConcurrent = cfg.Browser.MaxConcurrent
	a.cfg.Scheduler.MinDelayMs = cfg.Scheduler.MinDelayMs
	a.cfg.Scheduler.MaxDelayMs = cfg.Scheduler.MaxDelayMs
	a.cfg.Scheduler.RetryBudget = cfg.Scheduler.RetryBudget

	a.Bus.Log("info", "configuration reloaded", map[string]any{
		"maxConcurrent": cfg.Browser.MaxConcurrent,
		"minDelayMs":    cfg.Scheduler.MinDelayMs,
		"maxDelayMs":    cfg.Scheduler.MaxDelayMs,
		"retryBudget":   cfg.Scheduler.RetryBudget,
	})
}

// Run serves the API on the configured address until ctx is done, then
// shuts everything down within shutdownTimeout.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := a.Config().Server.Addr
	server := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.sweeper.Start()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if a.configPath != "" {
		go func() {
			if err := config.Watch(watchCtx, a.configPath, a.logger, a.Reconfigure); err != nil {
				a.logger.Warn("config watch disabled", zap.Error(err))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	a.logger.Info("server starting", zap.String("addr", addr))
	a.Bus.Log("info", "server starting", map[string]any{"addr": addr})

	var runErr error
	select {
	case <-ctx.Done():
		a.Bus.Log("info", "shutdown requested", nil)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := a.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close stops tasks, sessions and background work and closes the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	errs = append(errs, a.closeResources(ctx)...)
	a.logger.Info("server stopped")
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) []error {
	var errs []error
	a.sweeper.Stop(ctx)
	if a.Sessions != nil {
		if err := a.Sessions.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("browser: %w", err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	return errs
}
