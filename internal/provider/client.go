package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neurokid/insight-agents/internal/metrics"
)

// Chatter is anything that can answer a routed chat request. *Router implements it.
type Chatter interface {
	Route(ctx context.Context, route string, req *ChatRequest) (*ChatResponse, error)
}

// Response is the outcome of a single LLM call. FinishReason is FinishError
// when the call failed, in which case Content is empty and Err holds the cause.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
	Err          error
}

// Failed reports whether the call ended in error.
func (r *Response) Failed() bool { return r.FinishReason == FinishError }

// ClientConfig tunes the LLM client.
type ClientConfig struct {
	Timeout   time.Duration
	Model     string
	MaxTokens int
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client wraps a Chatter with a hard per-call timeout, rate limiting and
// metrics. Chat never returns an error and never panics.
type Client struct {
	backend   Chatter
	cfg       ClientConfig
	limiter   *rate.Limiter
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewClient creates an LLM client over backend. collector may be nil.
func NewClient(backend Chatter, cfg ClientConfig, collector *metrics.Collector, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		backend:   backend,
		cfg:       cfg,
		collector: collector,
		logger:    logger.With(zap.String("component", "llm")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

type chatResult struct {
	resp *ChatResponse
	err  error
}

// Chat sends req on behalf of route (the agent type) and always returns a Response.
func (c *Client) Chat(ctx context.Context, route string, req *ChatRequest) *Response {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out := c.call(ctx, route, req)

	var prompt, completion int
	if out.Usage != nil {
		prompt, completion = out.Usage.PromptTokens, out.Usage.CompletionTokens
	}
	c.collector.RecordLLMRequest(route, out.FinishReason, time.Since(start), prompt, completion)
	if out.Failed() {
		c.logger.Warn("llm call failed",
			zap.String("route", route), zap.Duration("elapsed", time.Since(start)), zap.Error(out.Err))
	} else {
		c.logger.Debug("llm call",
			zap.String("route", route),
			zap.String("finish_reason", out.FinishReason),
			zap.Int("tool_calls", len(out.ToolCalls)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return out
}

func (c *Client) call(ctx context.Context, route string, req *ChatRequest) *Response {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return failed(fmt.Errorf("rate limit: %w", err))
		}
	}

	wire := *req
	if wire.Model == "" {
		wire.Model = c.cfg.Model
	}
	if wire.MaxTokens == 0 {
		wire.MaxTokens = c.cfg.MaxTokens
	}

	// The backend runs in its own goroutine so the timeout holds even when a
	// provider ignores ctx.
	done := make(chan chatResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- chatResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		resp, err := c.backend.Route(ctx, route, &wire)
		done <- chatResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failed(fmt.Errorf("llm timeout after %s", c.cfg.Timeout))
		}
		return failed(ctx.Err())
	case res := <-done:
		if res.err != nil {
			return failed(res.err)
		}
		if res.resp == nil {
			return failed(errors.New("empty response"))
		}
		usage := res.resp.Usage
		reason := normalizeFinish(res.resp.FinishReason)
		if reason == FinishStop && len(res.resp.ToolCalls) > 0 {
			reason = FinishToolCalls
		}
		return &Response{
			Content:      res.resp.Content,
			ToolCalls:    res.resp.ToolCalls,
			FinishReason: reason,
			Usage:        &usage,
		}
	}
}

func failed(err error) *Response {
	return &Response{FinishReason: FinishError, Err: err}
}
