package orchestrator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/controller"
)

var (
	// ErrQueueClosed is returned when submitting to a stopped queue.
	ErrQueueClosed = errors.New("run queue is stopped")
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)

// Executor runs one agent execution. *controller.Controller satisfies it.
type Executor interface {
	Execute(ctx context.Context, in controller.Input) *controller.Result
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers    int
	RunTimeout time.Duration
	// MaxHistory bounds how many finished runs stay queryable.
	MaxHistory int
}

// Queue executes submitted runs on a bounded pool of workers, highest
// priority first.
type Queue struct {
	exec   Executor
	cfg    QueueConfig
	logger *zap.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   runHeap
	runs      map[string]*Run
	finished  []string
	seq       uint64
	running   int
	processed int64
	failed    int64
	started   bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewQueue creates a stopped queue. Call Start to launch the workers.
func NewQueue(exec Executor, cfg QueueConfig, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		exec:   exec,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "run_queue")),
		runs:   make(map[string]*Run),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("run queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop refuses new runs, fails the ones still pending and waits for the
// running ones until ctx expires, after which their contexts are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for q.pending.Len() > 0 {
		r := heap.Pop(&q.pending).(*Run)
		q.finish(r, nil, "queue stopped before the run started")
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		q.logger.Info("run queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("stop run queue: %w", ctx.Err())
	}
}

// Submit enqueues in. A zero priority means DefaultPriority.
func (q *Queue) Submit(in controller.Input, priority int) (Run, error) {
	if priority == 0 {
		priority = DefaultPriority
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Run{}, ErrQueueClosed
	}
	q.seq++
	r := &Run{
		ID:        uuid.New().String(),
		AgentType: in.AgentType,
		Input:     in,
		Priority:  priority,
		Status:    RunPending,
		CreatedAt: q.now().UTC(),
		seq:       q.seq,
	}
	q.runs[r.ID] = r
	heap.Push(&q.pending, r)
	q.cond.Signal()

	q.logger.Debug("run enqueued",
		zap.String("run", r.ID),
		zap.String("agent", string(r.AgentType)),
		zap.Int("priority", priority))
	return *r, nil
}

// Get returns a snapshot of the run with id.
func (q *Queue) Get(id string) (Run, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return *r, nil
}

// List returns snapshots of every known run, newest first.
func (q *Queue) List() []Run {
	q.mu.Lock()
	out := make([]Run, 0, len(q.runs))
	for _, r := range q.runs {
		out = append(out, *r)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

// Stats reports queue depth and counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    q.pending.Len(),
		Running:   q.running,
		Workers:   q.cfg.Workers,
		Processed: q.processed,
		Failed:    q.failed,
		Started:   q.started && !q.closed,
	}
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		r := heap.Pop(&q.pending).(*Run)
		started := q.now().UTC()
		r.Status = RunRunning
		r.StartedAt = &started
		q.running++
		in := r.Input
		q.mu.Unlock()

		q.logger.Info("run started",
			zap.Int("worker", n),
			zap.String("run", r.ID),
			zap.String("agent", string(in.AgentType)))
		res := q.execute(in)

		q.mu.Lock()
		q.running--
		q.finish(r, res, res.Error)
		q.mu.Unlock()
	}
}

func (q *Queue) execute(in controller.Input) (res *controller.Result) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("run panicked", zap.String("agent", string(in.AgentType)), zap.Any("panic", p))
			res = &controller.Result{AgentType: in.AgentType, Error: fmt.Sprintf("run panicked: %v", p)}
		}
	}()
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.RunTimeout)
	defer cancel()
	return q.exec.Execute(ctx, in)
}

// finish records the terminal state of r. Callers hold q.mu.
func (q *Queue) finish(r *Run, res *controller.Result, errMsg string) {
	done := q.now().UTC()
	r.CompletedAt = &done
	r.Result = res
	if res != nil && res.Success {
		r.Status = RunDone
		q.processed++
	} else {
		r.Status = RunFailed
		r.Error = errMsg
		q.failed++
	}
	q.logger.Info("run finished",
		zap.String("run", r.ID),
		zap.String("agent", string(r.AgentType)),
		zap.String("status", string(r.Status)))

	q.finished = append(q.finished, r.ID)
	for len(q.finished) > q.cfg.MaxHistory {
		delete(q.runs, q.finished[0])
		q.finished = q.finished[1:]
	}
}
