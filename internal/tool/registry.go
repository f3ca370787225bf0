package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/metrics"
	"github.com/neurokid/insight-agents/internal/provider"
)

// ErrToolNotFound is returned by Lookup for unregistered names.
var ErrToolNotFound = errors.New("tool not found")

// Registry holds every registered tool and the per-agent allowlists.
// It is populated at startup and read-only afterwards.
type Registry struct {
	tools     map[string]*Tool
	order     []string
	allowed   map[string][]string
	mu        sync.RWMutex
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRegistry creates an empty registry. collector may be nil.
func NewRegistry(collector *metrics.Collector, logger *zap.Logger) *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		allowed:   make(map[string][]string),
		collector: collector,
		logger:    logger.With(zap.String("component", "tools")),
	}
}

// Register adds t. A second registration under the same name replaces the
// first and keeps its position.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Schema.Name
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool re-registered, overwriting", zap.String("tool", name))
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// RegisterForAgent sets the allowlist for agentType. Unknown names are dropped.
func (r *Registry) RegisterForAgent(agentType string, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool, len(names))
	var kept []string
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			r.logger.Warn("unknown tool in agent allowlist, skipping",
				zap.String("agent", agentType), zap.String("tool", n))
			continue
		}
		if !seen[n] {
			seen[n] = true
			kept = append(kept, n)
		}
	}
	r.allowed[agentType] = kept
}

// ForAgent returns the tools agentType may use, in registration order.
func (r *Registry) ForAgent(agentType string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allow := make(map[string]bool)
	for _, n := range r.allowed[agentType] {
		allow[n] = true
	}
	var out []Schema
	for _, n := range r.order {
		if allow[n] {
			out = append(out, r.tools[n].Schema)
		}
	}
	return out
}

// Names returns the names of tools agentType may use, in registration order.
func (r *Registry) Names(agentType string) []string {
	schemas := r.ForAgent(agentType)
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	return names
}

// All returns every registered schema in registration order.
func (r *Registry) All() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n].Schema)
	}
	return out
}

// Lookup returns the schema for name.
func (r *Registry) Lookup(name string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Schema, nil
}

// ToLLMFormat renders the allowed tools as function descriptors.
func (r *Registry) ToLLMFormat(agentType string) []provider.Tool {
	schemas := r.ForAgent(agentType)
	out := make([]provider.Tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.FunctionParameters(),
			},
		})
	}
	return out
}

// ValidateInput checks input against the named tool's schema.
func (r *Registry) ValidateInput(name string, input map[string]interface{}) Validation {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Validation{Errors: []string{"Tool not found: " + name}}
	}
	return t.Schema.Validate(input)
}

// Execute validates and runs the named tool. It never returns an error:
// every failure is reported through the Result.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]interface{}) (res *Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", zap.String("tool", name), zap.Any("panic", p))
			res = &Result{Error: fmt.Sprintf("Tool %s panicked: %v", name, p)}
		}
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		r.collector.RecordToolExecution(name, res.Success, time.Since(start))
	}()

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &Result{Error: "Tool not found: " + name}
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	if v := t.Schema.Validate(input); !v.Valid {
		return &Result{Error: strings.Join(v.Errors, "; ")}
	}

	data, err := t.Handler(ctx, t.Schema.withDefaults(input))
	if err != nil {
		r.logger.Warn("tool execution failed", zap.String("tool", name), zap.Error(err))
		return &Result{Error: err.Error()}
	}

	out := &Result{Success: true}
	if a, ok := data.(*Annotated); ok {
		data, out.Metadata = a.Data, a.Metadata
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	out.Data = data
	return out
}
