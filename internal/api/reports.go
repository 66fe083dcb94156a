package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eeelify/Z-inspection-sub003/internal/report"
)

type ReportsHandler struct {
	reports *report.Service
}

func NewReportsHandler(svc *report.Service) *ReportsHandler {
	return &ReportsHandler{reports: svc}
}

func reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid report id"})
		return uuid.Nil, false
	}
	return id, true
}

// Risk returns a fresh scoring snapshot without creating a report.
func (h *ReportsHandler) Risk(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reports.Snapshot(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *ReportsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	a, err := h.reports.Latest(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no final report"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	a, err := h.reports.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ReportsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	a, err := h.reports.Generate(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *ReportsHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	a, _, err := h.reports.CreateDraft(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *ReportsHandler) Commit(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	a, err := h.reports.Commit(r.Context(), chi.URLParam(r, "projectID"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type FailRequest struct {
	Reason string `json:"reason"`
}

func (h *ReportsHandler) Fail(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason required"})
		return
	}
	a, err := h.reports.Fail(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ReportsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	a, err := h.reports.Archive(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
