package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
	"github.com/eeelify/Z-inspection-sub003/internal/hermes"
	"github.com/eeelify/Z-inspection-sub003/internal/lock"
	"github.com/eeelify/Z-inspection-sub003/internal/report"
	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

func setupTestRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := report.NewService(ms, lock.NewLocal(), hermes.NopClient{}, nil, report.Config{ModelVersion: "1.0.0"}, logger)
	ing := report.NewIngester(ms, logger)

	err := ms.SaveQuestion(context.Background(), catalog.Question{
		ID: "t1", Principle: catalog.PrincipleTransparency, Type: catalog.TypeSingleChoice, Importance: 4,
		Options: []string{"yes", "no"}, OptionRisks: map[string]float64{"yes": 0, "no": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(ms, svc, ing, "test-token", logger), ms
}

func do(router http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(ActorHeader, "e1")
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitAnswerAndRisk(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(router, "POST", "/api/v1/projects/p1/answers", `{"question_id":"t1","selected":["no"]}`, false)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(router, "GET", "/api/v1/projects/p1/risk", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap scoring.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.AnswerCount != 1 {
		t.Errorf("expected 1 answer, got %d", snap.AnswerCount)
	}
	if snap.Evaluators.Count != 1 {
		t.Errorf("expected evaluator from actor header, got %d", snap.Evaluators.Count)
	}
}

func TestSubmitAnswerMissingQuestion(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(router, "POST", "/api/v1/projects/p1/answers", `{"selected":["no"]}`, false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSaveQuestion(t *testing.T) {
	router, _ := setupTestRouter(t)

	good := `{"id":"q2","principle":"accountability","type":"open_text","importance":2}`
	if w := do(router, "PUT", "/api/v1/questions", good, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := do(router, "PUT", "/api/v1/questions", good, true); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	bad := `{"id":"q3","principle":"vibes","type":"open_text","importance":2}`
	if w := do(router, "PUT", "/api/v1/questions", bad, true); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLatestNotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(router, "GET", "/api/v1/projects/p1/reports/latest", "", false)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGenerateRequiresAdminToken(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(router, "POST", "/api/v1/projects/p1/reports", "", false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestReportLifecycle(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(router, "POST", "/api/v1/projects/p1/reports", "", true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first store.ReportArtifact
	json.NewDecoder(w.Body).Decode(&first)
	if first.Version != 1 || !first.Latest || first.Status != store.StatusFinal {
		t.Fatalf("unexpected first report: %+v", first)
	}

	w = do(router, "POST", "/api/v1/projects/p1/reports/drafts", "", true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var draft store.ReportArtifact
	json.NewDecoder(w.Body).Decode(&draft)

	// Committing under a different project is a conflict.
	w = do(router, "POST", fmt.Sprintf("/api/v1/projects/p2/reports/%s/commit", draft.ID), "", true)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	w = do(router, "POST", fmt.Sprintf("/api/v1/projects/p1/reports/%s/commit", draft.ID), "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(router, "GET", "/api/v1/projects/p1/reports/latest", "", false)
	var latest store.ReportArtifact
	json.NewDecoder(w.Body).Decode(&latest)
	if latest.ID != draft.ID {
		t.Errorf("expected latest %s, got %s", draft.ID, latest.ID)
	}

	// The latest report cannot be archived; the superseded one can.
	w = do(router, "POST", fmt.Sprintf("/api/v1/reports/%s/archive", draft.ID), "", true)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	w = do(router, "POST", fmt.Sprintf("/api/v1/reports/%s/archive", first.ID), "", true)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	w = do(router, "GET", "/api/v1/projects/p1/reports", "", false)
	var reports []store.ReportArtifact
	json.NewDecoder(w.Body).Decode(&reports)
	if len(reports) != 2 {
		t.Errorf("expected 2 reports, got %d", len(reports))
	}
}

func TestFailDraft(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(router, "POST", "/api/v1/projects/p1/reports/drafts", "", true)
	var draft store.ReportArtifact
	json.NewDecoder(w.Body).Decode(&draft)

	w = do(router, "POST", fmt.Sprintf("/api/v1/reports/%s/fail", draft.ID), `{}`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without reason, got %d", w.Code)
	}
	w = do(router, "POST", fmt.Sprintf("/api/v1/reports/%s/fail", draft.ID), `{"reason":"renderer down"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = do(router, "POST", fmt.Sprintf("/api/v1/projects/p1/reports/%s/commit", draft.ID), "", true)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 committing a failed draft, got %d", w.Code)
	}
}

func TestUnknownReport(t *testing.T) {
	router, _ := setupTestRouter(t)

	if w := do(router, "GET", "/api/v1/reports/"+uuid.New().String(), "", false); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(router, "GET", "/api/v1/reports/not-a-uuid", "", false); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestMissingActorID(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/questions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := NewMetricsRouter()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("commit: %w", store.ErrInvalidTransition), http.StatusConflict},
		{store.ErrProjectMismatch, http.StatusConflict},
		{store.ErrVersionConflict, http.StatusConflict},
		{catalog.ErrInvalidQuestion, http.StatusBadRequest},
		{report.ErrInvalidAnswer, http.StatusBadRequest},
		{fmt.Errorf("render report: %w", report.ErrUnsafeProjectID), http.StatusBadRequest},
		{errors.Join(lock.ErrNotAcquired, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
