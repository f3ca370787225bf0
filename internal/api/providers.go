package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/store"
)

// llmCheckTimeout bounds a single provider health check.
const llmCheckTimeout = 10 * time.Second

// ProviderStore persists LLM provider rows.
type ProviderStore interface {
	ListProviders(ctx context.Context) ([]*store.ProviderRow, error)
	GetProvider(ctx context.Context, id string) (*store.ProviderRow, error)
	SaveProvider(ctx context.Context, p *store.ProviderRow) error
	UpdateProvider(ctx context.Context, p *store.ProviderRow) error
	DeleteProvider(ctx context.Context, id string) error
	SetDefaultProvider(ctx context.Context, id string) error
}

// LLMProviders is the live provider set behind the LLM client.
type LLMProviders interface {
	ListProviders() []provider.Provider
	GetProvider(id string) (provider.Provider, bool)
	Register(p provider.Provider)
	Unregister(id string) bool
	SetDefault(id string)
}

type providerHealth struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

func checkProvider(ctx context.Context, p provider.Provider) providerHealth {
	ctx, cancel := context.WithTimeout(ctx, llmCheckTimeout)
	defer cancel()
	start := time.Now()
	err := p.HealthCheck(ctx)
	ph := providerHealth{ID: p.ID(), Name: p.Name(), Healthy: err == nil, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		ph.Error = err.Error()
	}
	return ph
}

// llmHealth checks every live provider concurrently. Any failure, or no
// provider at all, answers 503.
func (h *Handler) llmHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.LLM == nil {
		unavailable(w, "LLM router")
		return
	}
	providers := h.deps.LLM.ListProviders()
	results := make([]providerHealth, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			results[i] = checkProvider(r.Context(), p)
			return nil
		})
	}
	_ = g.Wait()

	status, code := "ok", http.StatusOK
	if len(results) == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	for _, ph := range results {
		if !ph.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
			h.logger.Warn("LLM provider unhealthy", zap.String("provider", ph.ID), zap.String("error", ph.Error))
		}
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "providers": results})
}

func (h *Handler) llmProviderHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.LLM == nil {
		unavailable(w, "LLM router")
		return
	}
	p, ok := h.deps.LLM.GetProvider(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "provider not registered")
		return
	}
	ph := checkProvider(r.Context(), p)
	code := http.StatusOK
	if !ph.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ph)
}

// requireAdmin guards the provider admin routes with a bearer token. With no
// token configured the routes are closed.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin routes disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// providerInput is the writable part of a provider row. APIKey is accepted
// but never echoed back.
type providerInput struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Model    string            `json:"model"`
	Extra    map[string]string `json:"extra"`
}

func (in providerInput) row(id string) *store.ProviderRow {
	return &store.ProviderRow{
		ID: id, Name: in.Name, Type: in.Type, Endpoint: in.Endpoint,
		APIKey: in.APIKey, Model: in.Model, Extra: in.Extra,
	}
}

// providerError maps store errors onto status codes.
func (h *Handler) providerError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrProviderNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("provider "+op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// activate swaps the live provider for row. A failure leaves the stored row
// in place and is only logged; the next restart retries it.
func (h *Handler) activate(row *store.ProviderRow) {
	if h.deps.LLM == nil {
		return
	}
	p, err := provider.New(row.Config(), h.logger)
	if err != nil {
		h.logger.Warn("stored provider not activated", zap.String("id", row.ID), zap.Error(err))
		return
	}
	h.deps.LLM.Register(p)
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		unavailable(w, "provider store")
		return
	}
	rows, err := h.deps.Providers.ListProviders(r.Context())
	if err != nil {
		h.providerError(w, "list", err)
		return
	}
	if rows == nil {
		rows = []*store.ProviderRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) getProvider(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		unavailable(w, "provider store")
		return
	}
	row, err := h.deps.Providers.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.providerError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) createProvider(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		unavailable(w, "provider store")
		return
	}
	var in providerInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	row := in.row("")
	if err := row.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Providers.SaveProvider(r.Context(), row); err != nil {
		h.providerError(w, "save", err)
		return
	}
	h.activate(row)
	h.logger.Info("provider created", zap.String("id", row.ID), zap.String("type", row.Type))
	writeJSON(w, http.StatusCreated, row)
}

func (h *Handler) updateProvider(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		unavailable(w, "provider store")
		return
	}
	var in providerInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	row := in.row(chi.URLParam(r, "id"))
	if err := row.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Providers.UpdateProvider(r.Context(), row); err != nil {
		h.providerError(w, "update", err)
		return
	}
	h.activate(row)
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		unavailable(w, "provider store")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Providers.DeleteProvider(r.Context(), id); err != nil {
		h.providerError(w, "delete", err)
		return
	}
	if h.deps.LLM != nil {
		h.deps.LLM.Unregister(id)
	}
	h.logger.Info("provider deleted", zap.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setDefaultProvider(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		unavailable(w, "provider store")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Providers.SetDefaultProvider(r.Context(), id); err != nil {
		h.providerError(w, "set default", err)
		return
	}
	if h.deps.LLM != nil {
		if _, ok := h.deps.LLM.GetProvider(id); ok {
			h.deps.LLM.SetDefault(id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"default": id})
}
