package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/orchestrator"
)

type executeRequest struct {
	Goal         *agent.Goal `json:"goal,omitempty"`
	IncludeTrace bool        `json:"include_trace,omitempty"`
	Priority     int         `json:"priority,omitempty"`
}

type executeManyRequest struct {
	Agents       []agent.Type `json:"agents,omitempty"`
	Goal         *agent.Goal  `json:"goal,omitempty"`
	IncludeTrace bool         `json:"include_trace,omitempty"`
}

type executeManyResponse struct {
	Results   []*controller.Result `json:"results"`
	Succeeded []agent.Type         `json:"succeeded"`
	Failed    []agent.Type         `json:"failed"`
}

type agentView struct {
	agent.Config
	DefaultGoal agent.Goal `json:"default_goal"`
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Agents.Configs())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	t := agent.Type(chi.URLParam(r, "type"))
	cfg, ok := h.deps.Agents.Config(t)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown agent type: "+string(t))
		return
	}
	goal, _ := h.deps.Agents.DefaultGoal(t)
	writeJSON(w, http.StatusOK, agentView{Config: cfg, DefaultGoal: goal})
}

func (h *Handler) agentTools(w http.ResponseWriter, r *http.Request) {
	t := chi.URLParam(r, "type")
	if _, ok := h.deps.Agents.Config(agent.Type(t)); !ok {
		writeError(w, http.StatusNotFound, "Unknown agent type: "+t)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Tools.ForAgent(t))
}

func (h *Handler) executeAgent(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ExecuteTimeout)
	defer cancel()

	res := h.deps.Agents.Execute(ctx, controller.Input{
		AgentType:    agent.Type(chi.URLParam(r, "type")),
		Goal:         req.Goal,
		IncludeTrace: req.IncludeTrace,
	})
	writeJSON(w, h.statusFor(res), res)
}

// statusFor maps the two early-return outcomes onto HTTP codes. Sessions that
// ran, failed or not, answer 200 and callers branch on success.
func (h *Handler) statusFor(res *controller.Result) int {
	if res.Session != nil {
		return http.StatusOK
	}
	cfg, ok := h.deps.Agents.Config(res.AgentType)
	switch {
	case !ok:
		return http.StatusNotFound
	case !cfg.Enabled:
		return http.StatusConflict
	}
	return http.StatusOK
}

func (h *Handler) executeMany(w http.ResponseWriter, r *http.Request) {
	var req executeManyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ExecuteTimeout)
	defer cancel()

	var results []*controller.Result
	if len(req.Agents) == 0 {
		results = h.deps.Agents.ExecuteAll(ctx)
	} else {
		inputs := make([]controller.Input, len(req.Agents))
		for i, t := range req.Agents {
			inputs[i] = controller.Input{AgentType: t, Goal: req.Goal, IncludeTrace: req.IncludeTrace}
		}
		results = h.deps.Agents.ExecuteMany(ctx, inputs)
	}
	succeeded, failed := controller.Summary(results)
	writeJSON(w, http.StatusOK, executeManyResponse{
		Results:   results,
		Succeeded: emptyTypes(succeeded),
		Failed:    emptyTypes(failed),
	})
}

func emptyTypes(list []agent.Type) []agent.Type {
	if list == nil {
		return []agent.Type{}
	}
	return list
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		unavailable(w, "run queue")
		return
	}
	t := agent.Type(chi.URLParam(r, "type"))
	cfg, ok := h.deps.Agents.Config(t)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown agent type: "+string(t))
		return
	}
	if !cfg.Enabled {
		writeError(w, http.StatusConflict, "Agent "+string(t)+" is disabled")
		return
	}
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := h.deps.Runs.Submit(controller.Input{AgentType: t, Goal: req.Goal, IncludeTrace: req.IncludeTrace}, req.Priority)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		unavailable(w, "run queue")
		return
	}
	status := orchestrator.RunStatus(r.URL.Query().Get("status"))
	agentType := agent.Type(r.URL.Query().Get("agent_type"))
	out := []orchestrator.Run{}
	for _, run := range h.deps.Runs.List() {
		if status != "" && run.Status != status {
			continue
		}
		if agentType != "" && run.AgentType != agentType {
			continue
		}
		out = append(out, run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) runStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		unavailable(w, "run queue")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Runs.Stats())
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		unavailable(w, "run queue")
		return
	}
	run, err := h.deps.Runs.Get(chi.URLParam(r, "id"))
	if errors.Is(err, orchestrator.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
