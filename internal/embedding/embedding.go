package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string        `json:"provider" yaml:"provider"` // "openai" or "ollama"
	Endpoint  string        `json:"endpoint" yaml:"endpoint"`
	Model     string        `json:"model" yaml:"model"`
	APIKey    string        `json:"api_key" yaml:"api_key"`
	Dimension int           `json:"dimension" yaml:"dimension"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai", "api", "":
		return NewOpenAIProvider(cfg), nil
	case "ollama", "local":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// dimension remembers the vector size seen on the first successful call,
// falling back to the configured value until then.
type dimension struct {
	configured int
	observed   atomic.Int64
}

func (d *dimension) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		d.observed.CompareAndSwap(0, int64(len(vectors[0])))
	}
}

func (d *dimension) get() int {
	if n := d.observed.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
