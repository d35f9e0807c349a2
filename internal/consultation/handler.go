package consultation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

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

// Routes mounts under /admin/consultations.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/summary", h.Summary)
	r.Get("/{consultationID}", h.Get)
	r.Patch("/{consultationID}", h.Update)
	return r
}

// Submit handles POST /hospitals/{hospitalID}/consultations.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	hospitalID := chi.URLParam(r, "hospitalID")
	var in Input
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := h.service.Submit(r.Context(), hospitalID, in)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"id": sub.ID, "status": sub.Status})
}

// List handles GET /admin/consultations?status=New&status=Retry&q=&page=&page_size=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	filter := Filter{HospitalID: hospitalID, Search: q.Get("q")}
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := ParseStatus(part)
			if err != nil {
				respond.Invalid(w, validation.New("status", "status must be one of New, Retry, Done"))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, page)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	summary, err := h.service.Summary(r.Context(), hospitalID)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, summary)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sub, err := h.service.Get(r.Context(), hospitalID, chi.URLParam(r, "consultationID"))
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, sub)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var u Update
	if err := respond.Decode(r, &u); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := h.service.Update(r.Context(), hospitalID, chi.URLParam(r, "consultationID"), u)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, sub)
}

func (h *Handler) writeError(w http.ResponseWriter, hospitalID string, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		respond.Invalid(w, err)
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "consultation not found")
	case errors.Is(err, ErrHospitalNotFound):
		respond.Error(w, http.StatusNotFound, "hospital not found")
	default:
		h.logger.Error("consultation request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
