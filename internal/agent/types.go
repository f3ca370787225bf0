package agent

import (
	"time"

	"github.com/neurokid/insight-agents/internal/memory"
)

// Type identifies an agent persona.
type Type string

const (
	EngagementAnalyst Type = "ENGAGEMENT_ANALYST"
	ContentModerator  Type = "CONTENT_MODERATOR"
	GrowthStrategist  Type = "GROWTH_STRATEGIST"
	PlatformHealth    Type = "PLATFORM_HEALTH"
	Coordinator       Type = "COORDINATOR"
)

// Types lists every known agent type in display order.
var Types = []Type{EngagementAnalyst, ContentModerator, GrowthStrategist, PlatformHealth, Coordinator}

// Config is the static definition of an agent persona.
type Config struct {
	Type         Type     `json:"type"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	AllowedTools []string `json:"allowed_tools"`
	MaxSteps     int      `json:"max_steps"`
	Temperature  float64  `json:"temperature"`
	Schedule     string   `json:"schedule"`
	Enabled      bool     `json:"enabled"`
}

// Goal is what a single execution should achieve.
type Goal struct {
	Description    string   `json:"description"`
	Constraints    []string `json:"constraints,omitempty"`
	Context        string   `json:"context,omitempty"`
	ExpectedFormat string   `json:"expected_format,omitempty"`
}

// Status is the lifecycle state of a reasoning session.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusExecuting  Status = "executing"
	StatusConcluding Status = "concluding"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Plan is the upfront decomposition of a goal.
type Plan struct {
	Goal             string            `json:"goal"`
	SubGoals         []string          `json:"sub_goals"`
	EstimatedSteps   int               `json:"estimated_steps"`
	RequiredTools    []string          `json:"required_tools"`
	RelevantMemories []*memory.Insight `json:"relevant_memories,omitempty"`
	Fallback         bool              `json:"fallback"`
}

// Session is the live state of one execution.
type Session struct {
	ID              string               `json:"id"`
	AgentType       Type                 `json:"agent_type"`
	StartedAt       time.Time            `json:"started_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	Goal            Goal                 `json:"goal"`
	Plan            *Plan                `json:"plan,omitempty"`
	Steps           []memory.ThoughtStep `json:"steps"`
	CurrentStep     int                  `json:"current_step"`
	MaxSteps        int                  `json:"max_steps"`
	Status          Status               `json:"status"`
	FinalConclusion string               `json:"final_conclusion,omitempty"`
	FinalConfidence *float64             `json:"final_confidence,omitempty"`
	Error           string               `json:"error,omitempty"`

	Memory *memory.ShortTerm `json:"-"`
}

// Outcome is what the engine hands back after a run.
type Outcome struct {
	Session       *Session
	CollectedData map[string]interface{}
	ToolsUsed     []string
	Err           error
}
