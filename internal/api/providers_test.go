package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/store"
)

type stubProvider struct {
	id  string
	err error
}

func (p *stubProvider) ID() string                            { return p.id }
func (p *stubProvider) Name() string                          { return "stub " + p.id }
func (p *stubProvider) HealthCheck(ctx context.Context) error { return p.err }
func (p *stubProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: "ok"}, nil
}

type fakeProviderStore struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*store.ProviderRow
}

func newFakeProviderStore() *fakeProviderStore {
	return &fakeProviderStore{rows: make(map[string]*store.ProviderRow)}
}

func (f *fakeProviderStore) ListProviders(context.Context) ([]*store.ProviderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ProviderRow
	for i := 1; i <= f.seq; i++ {
		if r, ok := f.rows[fmt.Sprintf("p-%d", i)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeProviderStore) GetProvider(_ context.Context, id string) (*store.ProviderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProviderNotFound, id)
	}
	return r, nil
}

func (f *fakeProviderStore) SaveProvider(_ context.Context, p *store.ProviderRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p.ID = fmt.Sprintf("p-%d", f.seq)
	p.HasKey = p.APIKey != ""
	f.rows[p.ID] = p
	return nil
}

func (f *fakeProviderStore) UpdateProvider(_ context.Context, p *store.ProviderRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.rows[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrProviderNotFound, p.ID)
	}
	if p.APIKey == "" {
		p.APIKey = old.APIKey
	}
	p.HasKey = p.APIKey != ""
	p.IsDefault = old.IsDefault
	f.rows[p.ID] = p
	return nil
}

func (f *fakeProviderStore) DeleteProvider(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrProviderNotFound, id)
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeProviderStore) SetDefaultProvider(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrProviderNotFound, id)
	}
	for rid, r := range f.rows {
		r.IsDefault = rid == id
	}
	return nil
}

const testAdminToken = "admin-secret"

func newProviderServer(t *testing.T, deps Deps, opts Options) *httptest.Server {
	t.Helper()
	deps.Agents = newFakeAgents()
	h := NewHandler(deps, opts, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(h.Router(ctx))
	t.Cleanup(ts.Close)
	return ts
}

func adminDo(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLLMHealth(t *testing.T) {
	router := provider.NewRouter(zap.NewNop())
	router.Register(&stubProvider{id: "b", err: errors.New("401 unauthorized")})
	router.Register(&stubProvider{id: "a"})
	ts := newProviderServer(t, Deps{LLM: router}, Options{})

	resp, err := http.Get(ts.URL + "/api/health/llm")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Status    string           `json:"status"`
		Providers []providerHealth `json:"providers"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "a", body.Providers[0].ID)
	assert.True(t, body.Providers[0].Healthy)
	assert.Equal(t, "b", body.Providers[1].ID)
	assert.False(t, body.Providers[1].Healthy)
	assert.Contains(t, body.Providers[1].Error, "401")

	router.Unregister("b")
	resp, err = http.Get(ts.URL + "/api/health/llm")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Len(t, body.Providers, 1)
}

func TestLLMHealthSingleProvider(t *testing.T) {
	router := provider.NewRouter(zap.NewNop())
	router.Register(&stubProvider{id: "a"})
	router.Register(&stubProvider{id: "down", err: errors.New("timeout")})
	ts := newProviderServer(t, Deps{LLM: router}, Options{})

	resp, err := http.Get(ts.URL + "/api/health/llm/a")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ph providerHealth
	decodeJSON(t, resp, &ph)
	assert.Equal(t, "stub a", ph.Name)
	assert.True(t, ph.Healthy)

	resp, err = http.Get(ts.URL + "/api/health/llm/down")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/health/llm/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestLLMHealthWithoutProviders(t *testing.T) {
	ts := newProviderServer(t, Deps{}, Options{})
	resp, err := http.Get(ts.URL + "/api/health/llm")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	ts = newProviderServer(t, Deps{LLM: provider.NewRouter(zap.NewNop())}, Options{})
	resp, err = http.Get(ts.URL + "/api/health/llm")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestProviderAdminAuth(t *testing.T) {
	deps := Deps{Providers: newFakeProviderStore()}

	ts := newProviderServer(t, deps, Options{})
	resp := adminDo(t, http.MethodGet, ts.URL+"/api/providers", testAdminToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	ts = newProviderServer(t, deps, Options{AdminToken: testAdminToken})
	resp = adminDo(t, http.MethodGet, ts.URL+"/api/providers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	resp = adminDo(t, http.MethodGet, ts.URL+"/api/providers", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	resp = adminDo(t, http.MethodGet, ts.URL+"/api/providers", testAdminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []store.ProviderRow
	decodeJSON(t, resp, &rows)
	assert.Empty(t, rows)
}

func TestProviderAdminLifecycle(t *testing.T) {
	ps := newFakeProviderStore()
	router := provider.NewRouter(zap.NewNop())
	router.Register(&stubProvider{id: "config"})
	ts := newProviderServer(t, Deps{Providers: ps, LLM: router}, Options{AdminToken: testAdminToken})
	base := ts.URL + "/api/providers"

	resp := adminDo(t, http.MethodPost, base, testAdminToken, map[string]string{"name": "x", "type": "gemini"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = adminDo(t, http.MethodPost, base, testAdminToken, map[string]string{
		"name": "Backup", "type": "openai", "endpoint": "http://127.0.0.1:1/v1/", "api_key": "sk-backup", "model": "gpt-4o-mini",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var raw map[string]interface{}
	decodeJSON(t, resp, &raw)
	id, _ := raw["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, raw["has_key"])
	assert.NotContains(t, raw, "api_key")
	assert.Equal(t, "http://127.0.0.1:1/v1", raw["endpoint"])

	live, ok := router.GetProvider(id)
	require.True(t, ok, "created provider is registered live")
	assert.Equal(t, "Backup", live.Name())

	resp = adminDo(t, http.MethodPut, base+"/"+id, testAdminToken, map[string]string{
		"name": "Backup EU", "type": "openai", "model": "gpt-4o",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	stored, err := ps.GetProvider(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "sk-backup", stored.APIKey, "empty key keeps the stored one")
	live, _ = router.GetProvider(id)
	assert.Equal(t, "Backup EU", live.Name())

	resp = adminDo(t, http.MethodPost, base+"/"+id+"/default", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, id, router.Default())

	resp = adminDo(t, http.MethodGet, base+"/"+id, testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got store.ProviderRow
	decodeJSON(t, resp, &got)
	assert.True(t, got.IsDefault)
	assert.Empty(t, got.APIKey)

	resp = adminDo(t, http.MethodDelete, base+"/"+id, testAdminToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	_, ok = router.GetProvider(id)
	assert.False(t, ok)
	assert.Equal(t, "config", router.Default())

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/" + id},
		{http.MethodDelete, "/" + id},
		{http.MethodPost, "/" + id + "/default"},
	} {
		resp = adminDo(t, req.method, base+req.path, testAdminToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, req.method+" "+req.path)
		resp.Body.Close()
	}
	resp = adminDo(t, http.MethodPut, base+"/"+id, testAdminToken, map[string]string{"name": "n", "type": "openai"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestProviderAdminWithoutStore(t *testing.T) {
	ts := newProviderServer(t, Deps{}, Options{AdminToken: testAdminToken})
	resp := adminDo(t, http.MethodGet, ts.URL+"/api/providers", testAdminToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}
