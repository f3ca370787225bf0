package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/metrics"
	"github.com/neurokid/insight-agents/internal/notify"
	"github.com/neurokid/insight-agents/internal/orchestrator"
	"github.com/neurokid/insight-agents/internal/report"
	"github.com/neurokid/insight-agents/internal/tool"
)

// Agents is the controller surface the API drives.
type Agents interface {
	Configs() []agent.Config
	Config(t agent.Type) (agent.Config, bool)
	DefaultGoal(t agent.Type) (agent.Goal, bool)
	Execute(ctx context.Context, in controller.Input) *controller.Result
	ExecuteMany(ctx context.Context, inputs []controller.Input) []*controller.Result
	ExecuteAll(ctx context.Context) []*controller.Result
}

// Runs is the asynchronous run queue.
type Runs interface {
	Submit(in controller.Input, priority int) (orchestrator.Run, error)
	Get(id string) (orchestrator.Run, error)
	List() []orchestrator.Run
	Stats() orchestrator.Stats
}

// History reads archived reports and run events.
type History interface {
	ListReports(ctx context.Context, agentType string, limit int) ([]*report.ExecutiveReport, error)
	ListRuns(ctx context.Context, agentType string, limit int) ([]controller.RunEvent, error)
}

// Events reads the live run event stream.
type Events interface {
	Recent(ctx context.Context, n int64) ([]controller.RunEvent, error)
}

// Deps are the handler's collaborators. Only Agents, Tools and Insights are
// required; routes backed by a nil dependency answer 503.
type Deps struct {
	Agents    Agents
	Tools     *tool.Registry
	Insights  *memory.LongTerm
	Runs      Runs
	History   History
	Events    Events
	Alerts    *notify.Broadcaster
	Collector *metrics.Collector
	// Providers and LLM back the provider admin and LLM readiness routes.
	Providers ProviderStore
	LLM       LLMProviders
}

// Options tune the HTTP surface.
type Options struct {
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	// ExecuteTimeout bounds synchronous executions.
	ExecuteTimeout time.Duration
	// AdminToken is the bearer token for /api/providers. Empty disables them.
	AdminToken string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, opts Options, logger *zap.Logger) *Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = 10 * time.Minute
	}
	return &Handler{deps: deps, opts: opts, logger: logger.With(zap.String("component", "api"))}
}

// Router builds the chi router with all routes. ctx bounds the limiter's
// background cleanup.
func (h *Handler) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", APIKeyHeader},
		AllowCredentials: true,
	}))

	if h.deps.Collector != nil {
		r.Handle("/metrics", h.deps.Collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimiter(ctx, h.opts.RateLimit, h.logger))

		r.Get("/health", h.healthCheck)
		r.Get("/health/llm", h.llmHealth)
		r.Get("/health/llm/{id}", h.llmProviderHealth)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{type}", h.getAgent)
		r.Get("/agents/{type}/tools", h.agentTools)
		r.Post("/agents/{type}/execute", h.executeAgent)
		r.Post("/agents/{type}/runs", h.submitRun)
		r.Post("/execute", h.executeMany)

		r.Get("/runs", h.listRuns)
		r.Get("/runs/stats", h.runStats)
		r.Get("/runs/history", h.runHistory)
		r.Get("/runs/events", h.runEvents)
		r.Get("/runs/{id}", h.getRun)

		r.Get("/tools", h.listTools)
		r.Post("/tools/{name}/validate", h.validateTool)

		r.Get("/insights", h.queryInsights)
		r.Get("/insights/recurring", h.recurringIssues)
		r.Get("/insights/cross-agent", h.crossAgentInsights)
		r.Post("/insights/{id}/resolve", h.resolveInsight)

		r.Get("/reports", h.listReports)
		r.Get("/alerts", h.listAlerts)

		r.Route("/providers", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/", h.listProviders)
			r.Post("/", h.createProvider)
			r.Get("/{id}", h.getProvider)
			r.Put("/{id}", h.updateProvider)
			r.Delete("/{id}", h.deleteProvider)
			r.Post("/{id}/default", h.setDefaultProvider)
		})
	})

	return r
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.deps.Collector.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	enabled := 0
	for _, cfg := range h.deps.Agents.Configs() {
		if cfg.Enabled {
			enabled++
		}
	}
	body := map[string]interface{}{
		"status":         "ok",
		"service":        "insight-agents",
		"agents_enabled": enabled,
		"tools":          len(h.deps.Tools.All()),
	}
	if h.deps.Runs != nil {
		body["queue"] = h.deps.Runs.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not configured")
}

// decodeBody decodes an optional JSON body into v. An empty body is not an error.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
