package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurokid/insight-agents/internal/agent"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadJSONWithEnv(t *testing.T) {
	t.Setenv("NK_TEST_KEY", "sk-live")
	path := writeFile(t, "agents.json", `{
		"server": {"port": 8080, "log_level": "debug"},
		"llm": {
			"providers": [{"id": "main", "type": "openai", "api_key": "${NK_TEST_KEY}", "model": "${NK_TEST_MODEL:gpt-4o-mini}", "timeout": "45s"}],
			"default": "main",
			"timeout": 30
		},
		"agents": {"overrides": {"CONTENT_MODERATOR": {"enabled": false, "max_steps": 4, "schedule": "daily"}}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	require.Len(t, cfg.LLM.Providers, 1)
	p := cfg.LLM.Providers[0].ProviderConfig()
	assert.Equal(t, "sk-live", p.APIKey)
	assert.Equal(t, "gpt-4o-mini", p.Model)
	assert.Equal(t, 45*time.Second, p.Timeout)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout.Duration)

	overrides := cfg.Agents.ControllerOverrides()
	o := overrides[agent.ContentModerator]
	require.NotNil(t, o.Enabled)
	assert.False(t, *o.Enabled)
	assert.Equal(t, 4, o.MaxSteps)
	assert.Equal(t, "daily", o.Schedule)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "agents.yaml", `
server:
  port: 9000
memory:
  backend: sqlite
queue:
  workers: 4
  run_timeout: 2m
notify:
  slack:
    enabled: true
    bot_token: xoxb-1
    channel_id: C1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Memory.Backend)
	assert.Equal(t, "data/insights.db", cfg.Memory.SQLitePath)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Queue.RunTimeout.Duration)
	assert.True(t, cfg.Notify.Slack.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorContains(t, err, "read config")
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`), ".json")
	require.NoError(t, err)
	assert.Equal(t, 3210, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, BackendMemory, cfg.Memory.Backend)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 6334, cfg.Database.Qdrant.Port)
	assert.Equal(t, 3, cfg.Agents.MaxConcurrency)
}

func TestValidateCollectsErrors(t *testing.T) {
	_, err := Parse([]byte(`{
		"server": {"port": 70000, "log_level": "loud"},
		"memory": {"backend": "postgres"},
		"cache": {"backend": "redis"},
		"llm": {"providers": [{"id": "a"}, {"id": "a"}], "default": "b"},
		"agents": {"overrides": {
			"NOBODY": {},
			"GROWTH_STRATEGIST": {"schedule": "every tuesday", "temperature": 3}
		}},
		"embedding": {"enabled": true, "provider": {"provider": "bert"}},
		"notify": {"discord": {"enabled": true}}
	}`), ".json")
	require.Error(t, err)
	for _, want := range []string{
		"server.port 70000",
		"server.log_level",
		"duplicate id",
		"llm.default",
		"requires database.postgres.dsn",
		"cache.backend redis requires",
		"unknown agent type \"NOBODY\"",
		"invalid schedule",
		"temperature must be within",
		"\"bert\" is not supported",
		"requires database.qdrant.host",
		"notify.discord",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)
	require.NoError(t, json.Unmarshal([]byte(`2.5`), &d))
	assert.Equal(t, 2500*time.Millisecond, d.Duration)
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	out, err := json.Marshal(Duration{Duration: time.Minute})
	require.NoError(t, err)
	assert.JSONEq(t, `"1m0s"`, string(out))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("NK_SET", "x")
	assert.Equal(t, "x-def-", expandEnv("${NK_SET}-${NK_UNSET:def}-${NK_UNSET}"))
}
