package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint through go-openai.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    dimension
}

// NewOpenAIProvider creates a provider from cfg. An empty model means
// text-embedding-3-small.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	clientCfg.HTTPClient = httpClient(cfg.Timeout)
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	p := &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), model: model}
	p.dim.configured = cfg.Dimension
	return p
}

// Embed returns one vector per text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	p.dim.observe(out)
	return out, nil
}

// Dimension returns the observed vector size, or the configured one before the first call.
func (p *OpenAIProvider) Dimension() int { return p.dim.get() }
