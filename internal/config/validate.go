package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/neurokid/insight-agents/internal/controller"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Defaults fills unset values in place.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ExecuteTimeout.Duration == 0 {
		c.Server.ExecuteTimeout.Duration = 5 * time.Minute
	}
	if c.LLM.Timeout.Duration == 0 {
		c.LLM.Timeout.Duration = 60 * time.Second
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.Agents.MaxConcurrency == 0 {
		c.Agents.MaxConcurrency = 3
	}
	if c.Agents.Scheduler.JobTimeout.Duration == 0 {
		c.Agents.Scheduler.JobTimeout.Duration = 30 * time.Minute
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = BackendMemory
	}
	if c.Memory.Backend == BackendSQLite && c.Memory.SQLitePath == "" {
		c.Memory.SQLitePath = "data/insights.db"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL.Duration == 0 {
		c.Cache.TTL.Duration = 2 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 1024
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RunTimeout.Duration == 0 {
		c.Queue.RunTimeout.Duration = 10 * time.Minute
	}
	if c.Queue.Stream == "" {
		c.Queue.Stream = "neurokid:agents:runs"
	}
	if c.Embedding.Collection == "" {
		c.Embedding.Collection = "agent_insights"
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Notify.Persona.Name == "" {
		c.Notify.Persona.Name = "NeuroKid Insights"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !logLevels[c.Server.LogLevel] {
		errs = append(errs, fmt.Errorf("server.log_level %q must be debug, info, warn or error", c.Server.LogLevel))
	}

	ids := make(map[string]bool, len(c.LLM.Providers))
	for i, p := range c.LLM.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("llm.providers[%d]: id is required", i))
			continue
		}
		if ids[p.ID] {
			errs = append(errs, fmt.Errorf("llm.providers[%d]: duplicate id %q", i, p.ID))
		}
		ids[p.ID] = true
	}
	if c.LLM.Default != "" && !ids[c.LLM.Default] && !c.LLM.LoadFromDB {
		errs = append(errs, fmt.Errorf("llm.default %q is not a configured provider", c.LLM.Default))
	}

	switch c.Memory.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, errors.New("memory.backend postgres requires database.postgres.dsn"))
		}
	case BackendNeo4j:
		if c.Database.Neo4j.URI == "" {
			errs = append(errs, errors.New("memory.backend neo4j requires database.neo4j.uri"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend %q must be memory, postgres, neo4j or sqlite", c.Memory.Backend))
	}
	if c.LLM.LoadFromDB && c.Database.Postgres.DSN == "" {
		errs = append(errs, errors.New("llm.load_from_db requires database.postgres.dsn"))
	}

	known := make(map[string]bool)
	for _, a := range controller.DefaultAgents() {
		known[string(a.Type)] = true
	}
	for name, o := range c.Agents.Overrides {
		if !known[name] {
			errs = append(errs, fmt.Errorf("agents.overrides: unknown agent type %q", name))
			continue
		}
		if o.MaxSteps < 0 {
			errs = append(errs, fmt.Errorf("agents.overrides.%s: max_steps must not be negative", name))
		}
		if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
			errs = append(errs, fmt.Errorf("agents.overrides.%s: temperature must be within [0, 2]", name))
		}
		if o.Schedule != "" && !controller.ValidSchedule(o.Schedule) {
			errs = append(errs, fmt.Errorf("agents.overrides.%s: invalid schedule %q", name, o.Schedule))
		}
	}

	switch c.Cache.Backend {
	case "none", "memory":
	case "redis", "hybrid":
		if c.Database.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("cache.backend %s requires database.redis.url", c.Cache.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be none, memory, redis or hybrid", c.Cache.Backend))
	}

	if c.Embedding.Enabled {
		switch c.Embedding.Provider.Provider {
		case "", "openai", "api", "ollama", "local":
		default:
			errs = append(errs, fmt.Errorf("embedding.provider.provider %q is not supported", c.Embedding.Provider.Provider))
		}
		if c.Database.Qdrant.Host == "" {
			errs = append(errs, errors.New("embedding.enabled requires database.qdrant.host"))
		}
	}

	for name, ch := range map[string]ChannelConfig{"slack": c.Notify.Slack, "discord": c.Notify.Discord} {
		if ch.Enabled && (ch.BotToken == "" || ch.ChannelID == "") {
			errs = append(errs, fmt.Errorf("notify.%s: bot_token and channel_id are required", name))
		}
	}
	return errors.Join(errs...)
}
