package wizard

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-admin/internal/doctor"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/internal/treatment"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const maxFormMemory = 32 << 20

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

// Routes mounts under /admin/wizard.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Progress)
	r.Post("/steps/{step}", h.SubmitStep)
	r.Get("/drafts/{step}", h.GetDraft)
	r.Put("/drafts/{step}", h.SaveDraft)
	r.Delete("/drafts/{step}", h.DeleteDraft)
	return r
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	progress, err := h.service.Progress(r.Context(), hospitalID)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, progress)
}

func stepParam(r *http.Request) int {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		return 0
	}
	return step
}

// SubmitStep handles POST /admin/wizard/steps/{step} with multipart FormData.
func (h *Handler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	progress, err := h.service.SubmitStep(r.Context(), hospitalID, stepParam(r), r.MultipartForm)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, progress)
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	data, err := h.service.Draft(r.Context(), hospitalID, stepParam(r))
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDraftBytes+1))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !json.Valid(data) {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.service.SaveDraft(r.Context(), hospitalID, stepParam(r), data); err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.service.DeleteDraft(r.Context(), hospitalID, stepParam(r)); err != nil {
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
	case errors.Is(err, ErrUnknownStep), errors.Is(err, ErrDraftNotFound):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrStepLocked):
		respond.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrDraftTooLarge):
		respond.Error(w, http.StatusRequestEntityTooLarge, "draft too large")
	case errors.Is(err, ErrDraftsDisabled):
		respond.Error(w, http.StatusServiceUnavailable, "drafts are not available")
	case errors.Is(err, hospital.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "hospital not found")
	case errors.Is(err, hospital.ErrTooManyImages):
		respond.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, hospital.ErrUnknownFacility):
		respond.Invalid(w, validation.New("facilities", err.Error()))
	case errors.Is(err, treatment.ErrUnknownTreatment):
		respond.Invalid(w, validation.New("treatments", err.Error()))
	case errors.Is(err, doctor.ErrNotFound):
		respond.Invalid(w, validation.New("doctors", err.Error()))
	case storage.StatusCode(err) != 0:
		respond.Error(w, storage.StatusCode(err), err.Error())
	default:
		h.logger.Error("wizard request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
