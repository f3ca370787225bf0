package orchestrator

import (
	"time"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/controller"
)

// RunStatus tracks a queued execution.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// DefaultPriority is used when a submission does not set one. Lower values run first.
const DefaultPriority = 5

// Run is one asynchronous execution request and, once finished, its result.
type Run struct {
	ID          string             `json:"id"`
	AgentType   agent.Type         `json:"agent_type"`
	Input       controller.Input   `json:"input"`
	Priority    int                `json:"priority"`
	Status      RunStatus          `json:"status"`
	Error       string             `json:"error,omitempty"`
	Result      *controller.Result `json:"result,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	seq   uint64
	index int
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r.Status == RunDone || r.Status == RunFailed
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Started   bool  `json:"started"`
}

// runHeap orders pending runs by priority, then submission order.
type runHeap []*Run

func (h runHeap) Len() int { return len(h) }

func (h runHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h runHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *runHeap) Push(x interface{}) {
	r := x.(*Run)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *runHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}
