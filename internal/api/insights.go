package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/neurokid/insight-agents/internal/memory"
)

// intParam reads a non-negative integer query parameter, capped at max.
func intParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func (h *Handler) queryInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(r, "limit", 20, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := intParam(r, "days", 0, 365)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	severity := memory.Severity(q.Get("severity"))
	if severity != "" && !severity.Valid() {
		writeError(w, http.StatusBadRequest, "severity must be one of info, warning, critical")
		return
	}

	f := memory.InsightFilter{
		AgentType:      q.Get("agent_type"),
		Category:       q.Get("category"),
		Severity:       severity,
		UnresolvedOnly: q.Get("unresolved") == "true",
		Limit:          limit,
	}
	if days > 0 {
		f.Since = h.deps.Insights.Now().AddDate(0, 0, -days)
	}
	list, err := h.deps.Insights.QueryInsights(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*memory.Insight{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) recurringIssues(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	window, err := intParam(r, "window_days", 30, 365)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issue, err := h.deps.Insights.CheckRecurringIssues(r.Context(), category, window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *Handler) crossAgentInsights(w http.ResponseWriter, r *http.Request) {
	agentType := r.URL.Query().Get("agent_type")
	if agentType == "" {
		writeError(w, http.StatusBadRequest, "agent_type is required")
		return
	}
	limit, err := intParam(r, "limit", 20, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.deps.Insights.CrossAgentInsights(r.Context(), agentType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*memory.Insight{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) resolveInsight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Insights.Resolve(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, memory.ErrInsightNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}
