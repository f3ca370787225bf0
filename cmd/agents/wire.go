package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/cache"
	"github.com/neurokid/insight-agents/internal/config"
	"github.com/neurokid/insight-agents/internal/embedding"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/metrics"
	"github.com/neurokid/insight-agents/internal/notify"
	"github.com/neurokid/insight-agents/internal/orchestrator"
	"github.com/neurokid/insight-agents/internal/platformtools"
	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/rag"
	"github.com/neurokid/insight-agents/internal/sqlstore"
	pgstore "github.com/neurokid/insight-agents/internal/store"
	"github.com/neurokid/insight-agents/internal/tool"
	"github.com/neurokid/insight-agents/internal/vectorstore"
)

const startupTimeout = 15 * time.Second

// app collects the optional backends and closes them in reverse order.
type app struct {
	cfg       *config.Config
	collector *metrics.Collector
	logger    *zap.Logger
	closers   []func()
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openPostgres returns nil when no DSN is set or the database is unreachable.
func (a *app) openPostgres(ctx context.Context) *pgstore.Store {
	pc := a.cfg.Database.Postgres
	if pc.DSN == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	ps, err := pgstore.New(ctx, pc.DSN, a.logger)
	if err != nil {
		a.logger.Warn("PostgreSQL unavailable, running without platform data", zap.Error(err))
		return nil
	}
	if pc.Migrate {
		if err := ps.Migrate(ctx); err != nil {
			a.logger.Fatal("migration failed", zap.Error(err))
		}
	}
	a.onClose(ps.Close)
	return ps
}

// buildLLM registers the configured providers (and the stored ones when
// enabled) behind a router and wraps it in the bounded client. The router is
// returned for the provider admin and readiness routes.
func (a *app) buildLLM(ctx context.Context, pg *pgstore.Store) (*provider.Client, *provider.Router, error) {
	lc := a.cfg.LLM
	router := provider.NewRouter(a.logger)

	configs := make([]provider.ProviderConfig, 0, len(lc.Providers))
	for _, p := range lc.Providers {
		configs = append(configs, p.ProviderConfig())
	}
	defaultID := lc.Default
	if lc.LoadFromDB && pg != nil {
		rows, err := pg.ListProviders(ctx)
		if err != nil {
			a.logger.Warn("failed to load providers from DB", zap.Error(err))
		}
		for _, r := range rows {
			configs = append(configs, r.Config())
			if r.IsDefault && defaultID == "" {
				defaultID = r.ID
			}
		}
	}
	if len(configs) == 0 {
		return nil, nil, fmt.Errorf("no LLM providers configured")
	}

	for _, pc := range configs {
		if pc.Timeout == 0 {
			pc.Timeout = lc.Timeout.Duration
		}
		p, err := provider.New(pc, a.logger)
		if err != nil {
			a.logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	if defaultID != "" {
		router.SetDefault(defaultID)
	}
	for route, id := range lc.Bindings {
		router.Bind(route, id)
	}
	if len(lc.Fallbacks) > 0 {
		router.SetFallbacks(lc.Fallbacks)
	}
	a.logger.Info("LLM providers registered", zap.Int("count", len(router.ListProviders())))

	client := provider.NewClient(router, provider.ClientConfig{
		Timeout:   lc.Timeout.Duration,
		Model:     lc.Model,
		MaxTokens: lc.MaxTokens,
		RateLimit: lc.RateLimit,
		Burst:     lc.Burst,
	}, a.collector, a.logger)
	return client, router, nil
}

// buildLongTerm opens the configured insight store and, when embeddings are
// enabled, the semantic index beside it.
func (a *app) buildLongTerm(ctx context.Context, pg *pgstore.Store) (*memory.LongTerm, error) {
	var store memory.InsightStore
	switch a.cfg.Memory.Backend {
	case config.BackendPostgres:
		if pg == nil {
			return nil, fmt.Errorf("memory backend postgres: database unavailable")
		}
		store = pg
	case config.BackendNeo4j:
		nc := a.cfg.Database.Neo4j
		gs, err := memory.NewGraphStore(nc.URI, nc.User, nc.Password, a.logger)
		if err != nil {
			return nil, err
		}
		sctx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := gs.EnsureSchema(sctx); err != nil {
			return nil, fmt.Errorf("neo4j schema: %w", err)
		}
		a.onClose(func() { _ = gs.Close(context.Background()) })
		store = gs
	case config.BackendSQLite:
		ss, err := sqlstore.Open(a.cfg.Memory.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = ss.Close() })
		store = ss
	default:
		store = memory.NewInMemoryStore()
	}
	a.logger.Info("Insight store ready", zap.String("backend", a.cfg.Memory.Backend))

	idx := a.buildIndex(ctx)
	if idx == nil {
		return memory.NewLongTerm(store, nil, a.logger), nil
	}
	return memory.NewLongTerm(store, idx, a.logger), nil
}

// buildIndex returns nil when embeddings are disabled or Qdrant is unreachable.
func (a *app) buildIndex(ctx context.Context) *rag.InsightIndex {
	ec := a.cfg.Embedding
	if !ec.Enabled {
		return nil
	}
	embedder, err := embedding.New(ec.Provider)
	if err != nil {
		a.logger.Warn("embedding provider unavailable, semantic recall disabled", zap.Error(err))
		return nil
	}
	qc, err := vectorstore.NewClient(a.cfg.Database.Qdrant)
	if err != nil {
		a.logger.Warn("qdrant unavailable, semantic recall disabled", zap.Error(err))
		return nil
	}
	idx := rag.NewInsightIndex(embedder, qc, ec.Collection, ec.MinScore, a.logger)
	ictx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := idx.Init(ictx); err != nil {
		a.logger.Warn("qdrant collection init failed, semantic recall disabled", zap.Error(err))
		_ = qc.Close()
		return nil
	}
	a.onClose(func() { _ = qc.Close() })
	return idx
}

func (a *app) buildCache(ctx context.Context) cache.Cache {
	cc := a.cfg.Cache
	switch cc.Backend {
	case "none":
		return nil
	case "redis", "hybrid":
		rctx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		rc, err := cache.NewRedisCache(rctx, a.cfg.Database.Redis.URL, a.collector, a.logger)
		if err != nil {
			a.logger.Warn("redis cache unavailable, using in-process cache", zap.Error(err))
			return cache.NewMemoryCache(cc.MaxEntries, a.collector)
		}
		a.onClose(func() { _ = rc.Close() })
		if cc.Backend == "hybrid" {
			return cache.NewHybrid(rc, cache.NewMemoryCache(cc.MaxEntries, a.collector), a.logger)
		}
		return rc
	default:
		return cache.NewMemoryCache(cc.MaxEntries, a.collector)
	}
}

func (a *app) registerTools(ctx context.Context, reg *tool.Registry, pg *pgstore.Store, long *memory.LongTerm) {
	if pg != nil {
		platformtools.Register(reg, pg, a.buildCache(ctx), a.cfg.Cache.TTL.Duration)
	} else {
		a.logger.Warn("no platform database, data tools are not registered")
	}
	platformtools.RegisterMemory(reg, long)
	a.logger.Info("Tools registered", zap.Int("count", len(reg.All())))
}

// buildNotifier returns nil when no channel is enabled.
func (a *app) buildNotifier() *notify.Broadcaster {
	nc := a.cfg.Notify
	var channels []notify.Channel
	if nc.Slack.Enabled {
		channels = append(channels, notify.NewSlackChannel(nc.Slack.BotToken, nc.Slack.ChannelID, nc.Persona, a.logger))
	}
	if nc.Discord.Enabled {
		dc, err := notify.NewDiscordChannel(nc.Discord.BotToken, nc.Discord.ChannelID, a.logger)
		if err != nil {
			a.logger.Warn("discord channel unavailable", zap.Error(err))
		} else {
			channels = append(channels, dc)
		}
	}
	if len(channels) == 0 {
		return nil
	}
	return notify.NewBroadcaster(a.logger, channels...)
}

// dialMessageBus returns nil when Redis is not configured or unreachable.
func (a *app) dialMessageBus(ctx context.Context) *orchestrator.MessageBus {
	if a.cfg.Database.Redis.URL == "" {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	bus, err := orchestrator.DialMessageBus(dctx, a.cfg.Database.Redis.URL, a.cfg.Queue.Stream, a.logger)
	if err != nil {
		a.logger.Warn("Redis unavailable, run events stay local", zap.Error(err))
		return nil
	}
	a.onClose(func() { _ = bus.Close() })
	return bus
}
