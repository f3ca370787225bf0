package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// New builds a provider from its configuration.
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "openai-sdk":
		return NewSDKProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Router holds the configured providers and picks one per route key.
// Route keys are agent types; unbound keys use the default provider.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string // route -> providerID
	fallbacks []string          // tried in order after the primary fails
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Unregister removes a provider. Clearing the default leaves routing to the
// lowest remaining ID.
func (r *Router) Unregister(providerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[providerID]; !ok {
		return false
	}
	delete(r.providers, providerID)
	if r.defaults == providerID {
		r.defaults = ""
		ids := make([]string, 0, len(r.providers))
		for id := range r.providers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) > 0 {
			r.defaults = ids[0]
		}
	}
	r.logger.Info("unregistered provider", zap.String("id", providerID))
	return true
}

// Default returns the default provider ID.
func (r *Router) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind associates a route key with a specific provider.
func (r *Router) Bind(route, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[route] = providerID
}

// SetFallbacks configures the fallback chain shared by all routes.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), providerIDs...)
}

// Route sends a chat request through the bound provider, then the fallbacks.
func (r *Router) Route(ctx context.Context, route string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.resolve(route)
	fallbacks := r.fallbacks
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for route %s", route)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("route", route), zap.String("provider", primary.ID()), zap.Error(err))

	for _, fbID := range fallbacks {
		if fbID == primary.ID() {
			continue
		}
		r.mu.RLock()
		fb, ok := r.providers[fbID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for route %s: %w", route, err)
}

func (r *Router) resolve(route string) Provider {
	if pid, ok := r.bindings[route]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers ordered by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
