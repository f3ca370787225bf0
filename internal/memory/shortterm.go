package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxShortTermEntries bounds the per-session reasoning log.
const MaxShortTermEntries = 50

// maxRenderedContent bounds a single entry in prompt text.
const maxRenderedContent = 1500

// EntryType classifies a short-term memory entry.
type EntryType string

const (
	EntryThought     EntryType = "thought"
	EntryAction      EntryType = "action"
	EntryObservation EntryType = "observation"
	EntryConclusion  EntryType = "conclusion"
)

// Entry is one immutable record in the session's reasoning log.
type Entry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       EntryType              `json:"type"`
	Content    string                 `json:"content"`
	ToolUsed   string                 `json:"tool_used,omitempty"`
	ToolInput  map[string]interface{} `json:"tool_input,omitempty"`
	ToolOutput interface{}            `json:"tool_output,omitempty"`
	Confidence *float64               `json:"confidence,omitempty"`
}

// StepAction is the tool invocation attached to a ThoughtStep.
type StepAction struct {
	Tool      string                 `json:"tool"`
	Input     map[string]interface{} `json:"input"`
	Reasoning string                 `json:"reasoning,omitempty"`
}

// ThoughtStep is a derived, display-oriented view over the entry log.
type ThoughtStep struct {
	ID             string      `json:"id"`
	Step           int         `json:"step"`
	Thought        string      `json:"thought"`
	Action         *StepAction `json:"action,omitempty"`
	Observation    string      `json:"observation,omitempty"`
	ShouldContinue bool        `json:"should_continue"`
	Confidence     float64     `json:"confidence"`
}

// ShortTerm is the append-only reasoning log of one session.
type ShortTerm struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewShortTerm creates an empty log.
func NewShortTerm() *ShortTerm {
	return &ShortTerm{now: time.Now}
}

func (m *ShortTerm) add(e Entry) Entry {
	e.ID = uuid.New().String()
	e.Timestamp = m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if over := len(m.entries) - MaxShortTermEntries; over > 0 {
		m.entries = append([]Entry(nil), m.entries[over:]...)
	}
	return e
}

// AddThought records model reasoning.
func (m *ShortTerm) AddThought(content string, confidence float64) Entry {
	c := clamp01(confidence)
	return m.add(Entry{Type: EntryThought, Content: content, Confidence: &c})
}

// AddAction records a tool invocation request.
func (m *ShortTerm) AddAction(tool string, input map[string]interface{}, reasoning string) Entry {
	return m.add(Entry{Type: EntryAction, Content: reasoning, ToolUsed: tool, ToolInput: input})
}

// AddObservation records a tool outcome. Failures are recorded too.
func (m *ShortTerm) AddObservation(tool string, output interface{}, content string) Entry {
	return m.add(Entry{Type: EntryObservation, Content: content, ToolUsed: tool, ToolOutput: output})
}

// AddConclusion records a conclusion with its confidence.
func (m *ShortTerm) AddConclusion(content string, confidence float64) Entry {
	c := clamp01(confidence)
	return m.add(Entry{Type: EntryConclusion, Content: content, Confidence: &c})
}

// Entries returns a copy of the log, oldest first.
func (m *ShortTerm) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of retained entries.
func (m *ShortTerm) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Count returns how many retained entries have type t.
func (m *ShortTerm) Count(t EntryType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Type == t {
			n++
		}
	}
	return n
}

// FormatForLLM renders the most recent maxEntries entries as prompt text.
// Older entries are dropped, not summarized.
func (m *ShortTerm) FormatForLLM(maxEntries int) string {
	entries := m.Entries()
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	var b strings.Builder
	for _, e := range entries {
		switch e.Type {
		case EntryThought:
			fmt.Fprintf(&b, "[THOUGHT] %s\n", truncate(e.Content, maxRenderedContent))
		case EntryAction:
			input, _ := json.Marshal(e.ToolInput)
			fmt.Fprintf(&b, "[ACTION] %s(%s)", e.ToolUsed, input)
			if e.Content != "" {
				fmt.Fprintf(&b, " - %s", truncate(e.Content, 300))
			}
			b.WriteString("\n")
		case EntryObservation:
			fmt.Fprintf(&b, "[OBSERVATION] %s: %s\n", e.ToolUsed, truncate(e.Content, maxRenderedContent))
		case EntryConclusion:
			fmt.Fprintf(&b, "[CONCLUSION] %s\n", truncate(e.Content, maxRenderedContent))
		}
	}
	return b.String()
}

// ToThoughtSteps folds the log into steps. A thought opens a step, the
// following action and observation attach to it, and a conclusion opens a
// terminal step.
func (m *ShortTerm) ToThoughtSteps() []ThoughtStep {
	var steps []ThoughtStep
	cur := -1
	open := func(e Entry) {
		steps = append(steps, ThoughtStep{
			ID:             e.ID,
			Step:           len(steps) + 1,
			ShouldContinue: true,
			Confidence:     0.5,
		})
		cur = len(steps) - 1
	}

	for _, e := range m.Entries() {
		switch e.Type {
		case EntryThought:
			open(e)
			steps[cur].Thought = e.Content
			if e.Confidence != nil {
				steps[cur].Confidence = *e.Confidence
			}
		case EntryAction:
			if cur < 0 || steps[cur].Action != nil || steps[cur].Observation != "" {
				open(e)
			}
			steps[cur].Action = &StepAction{Tool: e.ToolUsed, Input: e.ToolInput, Reasoning: e.Content}
		case EntryObservation:
			if cur < 0 || steps[cur].Observation != "" {
				open(e)
			}
			steps[cur].Observation = e.Content
		case EntryConclusion:
			open(e)
			steps[cur].Thought = e.Content
			steps[cur].ShouldContinue = false
			if e.Confidence != nil {
				steps[cur].Confidence = *e.Confidence
			}
			cur = -1
		}
	}
	return steps
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
