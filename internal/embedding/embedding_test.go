package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-small", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		// Out of order on purpose; the provider restores input order.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"embed-small","data":[
			{"object":"embedding","index":1,"embedding":[0.4,0.5,0.6]},
			{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(Config{Endpoint: srv.URL, Model: "embed-small", APIKey: "sk-test", Dimension: 8})
	assert.Equal(t, 8, p.Dimension())

	vectors, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, vectors[1])
	assert.Equal(t, 3, p.Dimension())
}

func TestOpenAIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota","type":"insufficient_quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{Endpoint: srv.URL})
	_, err := p.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestOllamaProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		json.NewEncoder(w).Encode(ollamaResponse{Embeddings: [][]float32{{1, 0}, {0, 1}}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL + "/"})
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, 2, p.Dimension())

	_, err = p.Embed(context.Background(), []string{"only-one-vector-back", "x", "y"})
	assert.Error(t, err)
}

func TestEmbedEmptyInput(t *testing.T) {
	for _, p := range []Provider{
		NewOpenAIProvider(Config{Endpoint: "http://unused", Dimension: 128}),
		NewOllamaProvider(Config{Endpoint: "http://unused", Dimension: 128}),
	} {
		vectors, err := p.Embed(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, vectors)
		assert.Equal(t, 128, p.Dimension())
	}
}

func TestNew(t *testing.T) {
	p, err := New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)

	p, err = New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = New(Config{Provider: "word2vec"})
	assert.Error(t, err)
}
