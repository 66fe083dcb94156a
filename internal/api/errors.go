package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
	"github.com/eeelify/Z-inspection-sub003/internal/lock"
	"github.com/eeelify/Z-inspection-sub003/internal/report"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrProjectMismatch),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrInvalidQuestion),
		errors.Is(err, report.ErrInvalidAnswer),
		errors.Is(err, report.ErrUnsafeProjectID):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
