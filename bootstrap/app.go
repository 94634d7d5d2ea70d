// Package bootstrap assembles the engine from configuration: storage
// backend, detection and correlation engines, alert lifecycle manager,
// ingest pipeline, and HTTP API.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus/alerting"
	"argus/api"
	"argus/config"
	"argus/detect"
	"argus/ingest"
	"argus/normalize"
	"argus/stats"
	"argus/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// App holds the wired components and their lifecycle.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store       storage.Storage
	Detection   *detect.Engine
	Correlation *detect.CorrelationEngine
	Alerts      *alerting.Manager
	Pipeline    *ingest.Pipeline
	APIServer   *api.API

	dedupIndex *alerting.RedisDedupIndex
	cancel     context.CancelFunc
	shutdownCh chan struct{}
}

// InitLogger builds the process logger. Development mode gets the colored
// console encoder; production gets JSON.
func InitLogger(level string, development bool) (*zap.Logger, *zap.SugaredLogger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if development {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// initStorage selects the persistence backend from configuration.
func initStorage(cfg *config.Config, sugar *zap.SugaredLogger) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		sugar.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case config.BackendSQLite:
		return storage.NewSQLiteStorage(cfg.Storage.SQLitePath, sugar)
	case config.BackendMongoDB:
		return storage.NewMongoStorage(
			cfg.Storage.MongoDB.URI,
			cfg.Storage.MongoDB.Database,
			cfg.Storage.MongoDB.MaxPoolSize,
			sugar,
		)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// NewApp loads configuration and wires every component.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	sugar.Info("Argus correlation engine starting...")

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      sugar,
		shutdownCh: make(chan struct{}),
	}
	ctx, app.cancel = context.WithCancel(ctx)

	app.Store, err = initStorage(cfg, sugar)
	if err != nil {
		return nil, err
	}

	matcher, err := detect.NewMatcher(cfg.Ingest.RegexCacheSize, sugar)
	if err != nil {
		return nil, fmt.Errorf("init matcher: %w", err)
	}
	app.Detection = detect.NewEngine(matcher, sugar)
	app.Correlation = detect.NewCorrelationEngine(matcher, sugar)
	if err := app.loadRules(ctx); err != nil {
		return nil, err
	}

	managerOpts := []alerting.Option{
		alerting.WithDedupWindow(cfg.DedupWindow()),
		alerting.WithRuleResolver(app.Detection),
	}
	if cfg.Alerting.Redis.Enabled {
		index, err := alerting.NewRedisDedupIndex(
			cfg.Alerting.Redis.Addr, cfg.Alerting.Redis.Password, cfg.Alerting.Redis.DB, sugar)
		if err != nil {
			return nil, fmt.Errorf("connect redis dedup index: %w", err)
		}
		app.dedupIndex = index
		managerOpts = append(managerOpts, alerting.WithDedupIndex(index))
	}
	app.Alerts = alerting.NewManager(app.Store, sugar, managerOpts...)

	app.Pipeline = ingest.NewPipeline(
		ctx,
		normalize.New(sugar),
		app.Detection,
		app.Correlation,
		app.Alerts,
		app.Store,
		ingest.Options{
			Workers:   cfg.Ingest.Workers,
			QueueSize: cfg.Ingest.QueueSize,
			RateLimit: rate.Limit(cfg.Ingest.RateLimit),
			RateBurst: cfg.Ingest.RateBurst,
		},
		sugar,
	)

	aggregator := stats.NewAggregator(app.Store, sugar)
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	app.APIServer = api.NewAPI(addr, app.Pipeline, app.Alerts, aggregator,
		app.Detection, app.Correlation, app.Store, sugar)

	return app, nil
}

// loadRules registers the enabled rules persisted in storage with both
// engines, then seeds any rules declared in the configured YAML file. Rules
// that fail validation are skipped, not fatal.
func (app *App) loadRules(ctx context.Context) error {
	rules, err := app.Store.GetEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("load detection rules: %w", err)
	}
	for _, rule := range rules {
		if err := app.Detection.AddRule(rule); err != nil {
			app.Sugar.Warnw("Skipping invalid detection rule", "rule_id", rule.ID, "error", err)
		}
	}
	correlationRules, err := app.Store.GetEnabledCorrelationRules(ctx)
	if err != nil {
		return fmt.Errorf("load correlation rules: %w", err)
	}
	for _, rule := range correlationRules {
		if err := app.Correlation.AddRule(rule); err != nil {
			app.Sugar.Warnw("Skipping invalid correlation rule", "rule_id", rule.ID, "error", err)
		}
	}
	app.Sugar.Infow("Rules loaded",
		"detection_rules", len(rules), "correlation_rules", len(correlationRules))
	if app.Config.Rules.File != "" {
		if err := app.seedRules(ctx, app.Config.Rules.File); err != nil {
			return err
		}
	}
	return nil
}

// seedRules registers and persists rules from a YAML file. Rules already
// known to the engine (loaded from storage) are left untouched.
func (app *App) seedRules(ctx context.Context, path string) error {
	rules, correlationRules, err := config.LoadRulesFile(path)
	if err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	var seeded int
	for _, rule := range rules {
		if _, err := app.Detection.Rule(rule.ID); err == nil {
			continue
		}
		if err := app.Detection.AddRule(rule); err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.ID, err)
		}
		if err := app.Store.CreateRule(ctx, rule); err != nil {
			app.Sugar.Warnw("Failed to persist seed rule", "rule_id", rule.ID, "error", err)
		}
		seeded++
	}
	for _, rule := range correlationRules {
		if _, err := app.Correlation.Rule(rule.ID); err == nil {
			continue
		}
		if err := app.Correlation.AddRule(rule); err != nil {
			return fmt.Errorf("seed correlation rule %s: %w", rule.ID, err)
		}
		if err := app.Store.CreateCorrelationRule(ctx, rule); err != nil {
			app.Sugar.Warnw("Failed to persist seed correlation rule", "rule_id", rule.ID, "error", err)
		}
		seeded++
	}
	app.Sugar.Infow("Seed rules applied", "file", path, "seeded", seeded)
	return nil
}

// Start brings up the pipeline workers and the API server.
func (app *App) Start() {
	app.Pipeline.Start()
	go func() {
		if err := app.APIServer.Start(); err != nil {
			app.Sugar.Errorw("API server exited", "error", err)
			close(app.shutdownCh)
		}
	}()
}

// WaitForShutdown blocks until SIGINT/SIGTERM or an API server failure.
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		app.Sugar.Infow("Shutdown signal received", "signal", sig)
	case <-app.shutdownCh:
	}
}

// Shutdown stops components in reverse dependency order.
func (app *App) Shutdown() {
	app.Sugar.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout())
	defer cancel()

	if err := app.APIServer.Shutdown(ctx); err != nil {
		app.Sugar.Warnw("API shutdown error", "error", err)
	}
	app.Pipeline.Stop()
	app.cancel()
	if app.dedupIndex != nil {
		if err := app.dedupIndex.Close(); err != nil {
			app.Sugar.Warnw("Redis close error", "error", err)
		}
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := app.Store.Close(closeCtx); err != nil {
		app.Sugar.Warnw("Storage close error", "error", err)
	}
	app.Sugar.Info("Shutdown complete")
	_ = app.Logger.Sync()
}
