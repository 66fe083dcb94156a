package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eeelify/Z-inspection-sub003/internal/report"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

func NewRouter(s store.CatalogStore, svc *report.Service, ing *report.Ingester, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	reports := NewReportsHandler(svc)
	cat := NewCatalogHandler(s, ing)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ActorIDMiddleware)

		r.Get("/questions", cat.ListQuestions)
		r.Get("/projects/{projectID}/answers", cat.ListAnswers)
		r.Post("/projects/{projectID}/answers", cat.SubmitAnswer)

		r.Get("/projects/{projectID}/risk", reports.Risk)
		r.Get("/projects/{projectID}/reports", reports.List)
		r.Get("/projects/{projectID}/reports/latest", reports.Latest)
		r.Get("/reports/{reportID}", reports.Get)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Put("/questions", cat.SaveQuestion)
			r.Post("/projects/{projectID}/reports", reports.Generate)
			r.Post("/projects/{projectID}/reports/drafts", reports.CreateDraft)
			r.Post("/projects/{projectID}/reports/{reportID}/commit", reports.Commit)
			r.Post("/reports/{reportID}/fail", reports.Fail)
			r.Post("/reports/{reportID}/archive", reports.Archive)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
