package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/http/respond"
)

// requireHospitalParam answers 404 for public routes whose {hospitalID} is
// not a UUID, before any handler touches the database.
func requireHospitalParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(chi.URLParam(r, "hospitalID")); err != nil {
			respond.Error(w, http.StatusNotFound, "hospital not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}
