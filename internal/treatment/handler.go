package treatment

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts under /admin/treatments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Put("/", h.Replace)
	r.Put("/{treatmentID}", h.Upsert)
	r.Delete("/{treatmentID}", h.Remove)
	return r
}

// Catalog handles the public GET /treatments.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Catalog(r.Context())
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	respond.JSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := h.service.List(r.Context(), hospitalID)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"treatments": items})
}

type replaceRequest struct {
	Treatments []Input `json:"treatments"`
}

func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req replaceRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	items, err := h.service.Replace(r.Context(), hospitalID, req.Treatments)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"treatments": items})
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var in Input
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ht, err := h.service.Upsert(r.Context(), hospitalID, chi.URLParam(r, "treatmentID"), in)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, ht)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.service.Remove(r.Context(), hospitalID, chi.URLParam(r, "treatmentID")); err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, hospitalID string, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		respond.Invalid(w, err)
	case errors.Is(err, ErrUnknownTreatment):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "treatment not found")
	default:
		h.logger.Error("treatment request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
