package hospital

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const maxFormMemory = 32 << 20

// Handler serves the listing profile endpoints.
type Handler struct {
	service *Service
	logger  *logging.Logger
	now     func() time.Time
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger, now: time.Now}
}

// Routes mounts under /admin/hospital.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetListing)
	r.Put("/", h.UpdateProfile)
	r.Put("/hours", h.ReplaceHours)
	r.Put("/facilities", h.ReplaceFacilities)
	r.Post("/images", h.AddImages)
	r.Delete("/images/{imageID}", h.DeleteImage)
	return r
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	listing, err := h.service.Listing(r.Context(), hospitalID)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, listing)
}

// PublicListing handles GET /hospitals/{hospitalID}.
func (h *Handler) PublicListing(w http.ResponseWriter, r *http.Request) {
	hospitalID := chi.URLParam(r, "hospitalID")
	listing, err := h.service.PublicListing(r.Context(), hospitalID, h.now())
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, listing)
}

// Facilities handles GET /facilities.
func (h *Handler) Facilities(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{"facilities": FacilityCatalog()})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req ProfileUpdate
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := h.service.UpdateProfile(r.Context(), hospitalID, req)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	h.logger.Info("hospital profile updated", "hospital_id", hospitalID)
	respond.JSON(w, http.StatusOK, updated)
}

type hoursBody struct {
	Hours []OpeningHours `json:"hours"`
}

func (h *Handler) ReplaceHours(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req hoursBody
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	hours, err := h.service.ReplaceHours(r.Context(), hospitalID, req.Hours)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, hoursBody{Hours: hours})
}

type facilitiesBody struct {
	Facilities []string `json:"facilities"`
}

func (h *Handler) ReplaceFacilities(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req facilitiesBody
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	facilities, err := h.service.ReplaceFacilities(r.Context(), hospitalID, req.Facilities)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"facilities": facilities})
}

// AddImages handles multipart POST with one or more "images" files.
func (h *Handler) AddImages(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		files = r.MultipartForm.File["images[]"]
	}
	images, err := h.service.AddImages(r.Context(), hospitalID, files)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"images": images})
}

func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.service.DeleteImage(r.Context(), hospitalID, chi.URLParam(r, "imageID")); err != nil {
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
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrImageNotFound):
		respond.Error(w, http.StatusNotFound, "image not found")
	case errors.Is(err, ErrUnknownFacility), errors.Is(err, ErrNoImages):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTooManyImages):
		respond.Error(w, http.StatusConflict, err.Error())
	case storage.StatusCode(err) != 0:
		respond.Error(w, storage.StatusCode(err), err.Error())
	default:
		h.logger.Error("hospital request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
