package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
	"github.com/eeelify/Z-inspection-sub003/internal/hermes"
	"github.com/eeelify/Z-inspection-sub003/internal/report"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

type CatalogHandler struct {
	store    store.CatalogStore
	ingester *report.Ingester
}

func NewCatalogHandler(s store.CatalogStore, ing *report.Ingester) *CatalogHandler {
	return &CatalogHandler{store: s, ingester: ing}
}

func (h *CatalogHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.ListQuestions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *CatalogHandler) SaveQuestion(w http.ResponseWriter, r *http.Request) {
	var q catalog.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.store.SaveQuestion(r.Context(), q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SubmitAnswer is the synchronous twin of the answer stream. The project
// comes from the path and the evaluator from the actor header when the body
// omits it.
func (h *CatalogHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var evt hermes.AnswerSubmittedEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	evt.ProjectID = chi.URLParam(r, "projectID")
	if evt.EvaluatorID == "" {
		evt.EvaluatorID = r.Header.Get(ActorHeader)
	}
	a, err := h.ingester.Submit(r.Context(), evt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *CatalogHandler) ListAnswers(w http.ResponseWriter, r *http.Request) {
	answers, err := h.store.ListAnswers(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answers)
}
