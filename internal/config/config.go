package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/api"
	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/embedding"
	"github.com/neurokid/insight-agents/internal/notify"
	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/vectorstore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Agents    AgentsConfig    `json:"agents" yaml:"agents"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
}

type ServerConfig struct {
	Port           int                 `json:"port" yaml:"port"`
	LogLevel       string              `json:"log_level" yaml:"log_level"`
	Dev            bool                `json:"dev" yaml:"dev"`
	AllowedOrigins []string            `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimit      api.RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	ExecuteTimeout Duration            `json:"execute_timeout" yaml:"execute_timeout"`
	// AdminToken enables the /api/providers routes.
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

type LLMConfig struct {
	Providers []ProviderEntry `json:"providers" yaml:"providers"`
	Default   string          `json:"default" yaml:"default"`
	Fallbacks []string        `json:"fallbacks" yaml:"fallbacks"`
	// Bindings route an agent type to a provider id.
	Bindings  map[string]string `json:"bindings" yaml:"bindings"`
	Timeout   Duration          `json:"timeout" yaml:"timeout"`
	Model     string            `json:"model" yaml:"model"`
	MaxTokens int               `json:"max_tokens" yaml:"max_tokens"`
	RateLimit float64           `json:"rate_limit" yaml:"rate_limit"`
	Burst     int               `json:"burst" yaml:"burst"`
	// LoadFromDB adds the active rows of llm_providers when PostgreSQL is configured.
	LoadFromDB bool `json:"load_from_db" yaml:"load_from_db"`
}

type ProviderEntry struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	APIKey   string            `json:"api_key" yaml:"api_key"`
	Model    string            `json:"model" yaml:"model"`
	Timeout  Duration          `json:"timeout" yaml:"timeout"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// ProviderConfig converts the entry for provider.New.
func (p ProviderEntry) ProviderConfig() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Model:    p.Model,
		Extra:    p.Extra,
		Timeout:  p.Timeout.Duration,
	}
}

type AgentsConfig struct {
	MaxConcurrency int                      `json:"max_concurrency" yaml:"max_concurrency"`
	Overrides      map[string]AgentOverride `json:"overrides" yaml:"overrides"`
	Scheduler      SchedulerConfig          `json:"scheduler" yaml:"scheduler"`
}

type AgentOverride struct {
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxSteps    int      `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Schedule    string   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// ControllerOverrides converts the configured overrides for controller.New.
func (a AgentsConfig) ControllerOverrides() map[agent.Type]controller.Override {
	out := make(map[agent.Type]controller.Override, len(a.Overrides))
	for name, o := range a.Overrides {
		out[agent.Type(name)] = controller.Override{
			Enabled:     o.Enabled,
			MaxSteps:    o.MaxSteps,
			Temperature: o.Temperature,
			Schedule:    o.Schedule,
		}
	}
	return out
}

type SchedulerConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	JobTimeout Duration `json:"job_timeout" yaml:"job_timeout"`
}

// Memory backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
	BackendSQLite   = "sqlite"
)

type MemoryConfig struct {
	Backend    string `json:"backend" yaml:"backend"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig           `json:"postgres" yaml:"postgres"`
	Neo4j    Neo4jConfig              `json:"neo4j" yaml:"neo4j"`
	Redis    RedisConfig              `json:"redis" yaml:"redis"`
	Qdrant   vectorstore.QdrantConfig `json:"qdrant" yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN     string `json:"dsn" yaml:"dsn"`
	Migrate bool   `json:"migrate" yaml:"migrate"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type CacheConfig struct {
	Backend    string   `json:"backend" yaml:"backend"` // memory, redis or none
	TTL        Duration `json:"ttl" yaml:"ttl"`
	MaxEntries int      `json:"max_entries" yaml:"max_entries"`
}

type QueueConfig struct {
	Workers    int      `json:"workers" yaml:"workers"`
	RunTimeout Duration `json:"run_timeout" yaml:"run_timeout"`
	MaxHistory int      `json:"max_history" yaml:"max_history"`
	// Stream is the Redis Stream run events go to when Redis is configured.
	Stream string `json:"stream" yaml:"stream"`
}

type EmbeddingConfig struct {
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	Collection string           `json:"collection" yaml:"collection"`
	MinScore   float32          `json:"min_score" yaml:"min_score"`
	Provider   embedding.Config `json:"provider" yaml:"provider"`
}

type NotifyConfig struct {
	Persona notify.Persona `json:"persona" yaml:"persona"`
	Slack   ChannelConfig  `json:"slack" yaml:"slack"`
	Discord ChannelConfig  `json:"discord" yaml:"discord"`
}

type ChannelConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BotToken  string `json:"bot_token" yaml:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

// Duration reads "90s"-style strings from JSON and YAML. Bare JSON numbers
// are seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or a number of seconds")
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file (chosen by extension), substitutes
// environment variable references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse([]byte(expandEnv(string(data))), filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes already-expanded data. ext selects the format; anything
// other than .yaml or .yml is treated as JSON.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
