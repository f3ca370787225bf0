package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/report"
)

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Tools.All())
}

func (h *Handler) validateTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.deps.Tools.Lookup(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	input := map[string]interface{}{}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Tools.ValidateInput(name, input))
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		unavailable(w, "report archive")
		return
	}
	limit, err := intParam(r, "limit", 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.deps.History.ListReports(r.Context(), r.URL.Query().Get("agent_type"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*report.ExecutiveReport{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) runHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		unavailable(w, "run history")
		return
	}
	limit, err := intParam(r, "limit", 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.deps.History.ListRuns(r.Context(), r.URL.Query().Get("agent_type"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []controller.RunEvent{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) runEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		unavailable(w, "event stream")
		return
	}
	limit, err := intParam(r, "limit", 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.deps.Events.Recent(r.Context(), int64(limit))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		unavailable(w, "alerting")
		return
	}
	limit, err := intParam(r, "limit", 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": h.deps.Alerts.Platforms(),
		"history":   h.deps.Alerts.History(limit),
	})
}
