package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/neurokid/insight-agents/internal/api"
	"github.com/neurokid/insight-agents/internal/config"
	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/metrics"
	"github.com/neurokid/insight-agents/internal/orchestrator"
	"github.com/neurokid/insight-agents/internal/tool"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/agents.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting NeuroKid insight agents...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("neurokid_agents", logger)
	app := &app{cfg: cfg, collector: collector, logger: logger}
	defer app.close()

	pg := app.openPostgres(ctx)
	llm, router, err := app.buildLLM(ctx, pg)
	if err != nil {
		logger.Fatal("failed to build LLM client", zap.Error(err))
	}

	long, err := app.buildLongTerm(ctx, pg)
	if err != nil {
		logger.Fatal("failed to open insight store", zap.Error(err))
	}

	tools := tool.NewRegistry(collector, logger)
	app.registerTools(ctx, tools, pg, long)

	opts := controller.Options{
		Overrides:      cfg.Agents.ControllerOverrides(),
		MaxConcurrency: cfg.Agents.MaxConcurrency,
		Collector:      collector,
	}
	alerts := app.buildNotifier()
	if alerts != nil {
		opts.Notifier = alerts
	}
	var publishers controller.Publishers
	bus := app.dialMessageBus(ctx)
	if bus != nil {
		publishers = append(publishers, bus)
	}
	if pg != nil {
		publishers = append(publishers, pg)
		opts.Archive = pg
	}
	if len(publishers) > 0 {
		opts.Publisher = publishers
	}
	ctrl := controller.New(llm, tools, long, opts, logger)

	queue := orchestrator.NewQueue(ctrl, orchestrator.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RunTimeout: cfg.Queue.RunTimeout.Duration,
		MaxHistory: cfg.Queue.MaxHistory,
	}, logger)
	queue.Start()

	var sched *controller.Scheduler
	if cfg.Agents.Scheduler.Enabled {
		sched = controller.NewScheduler(ctrl, cfg.Agents.Scheduler.JobTimeout.Duration, logger)
		if err := sched.Start(); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
	}

	deps := api.Deps{
		Agents:    ctrl,
		Tools:     tools,
		Insights:  long,
		Runs:      queue,
		Collector: collector,
		LLM:       router,
	}
	if pg != nil {
		deps.History = pg
		deps.Providers = pg
	}
	if bus != nil {
		deps.Events = bus
	}
	deps.Alerts = alerts
	handler := api.NewHandler(deps, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		ExecuteTimeout: cfg.Server.ExecuteTimeout.Duration,
		AdminToken:     cfg.Server.AdminToken,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Insight agents listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down insight agents...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled runs still in flight at shutdown")
		}
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logger.Warn("queue shutdown", zap.Error(err))
	}
}

func newLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
