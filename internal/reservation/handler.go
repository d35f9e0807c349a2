package reservation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

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

// Routes mounts under /admin/reservations.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{reservationID}", h.Get)
	r.Patch("/{reservationID}/status", h.SetStatus)
	return r
}

// Create handles POST /hospitals/{hospitalID}/reservations.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	hospitalID := chi.URLParam(r, "hospitalID")
	var in Input
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.service.Create(r.Context(), hospitalID, in)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusCreated, res)
}

// List handles GET /admin/reservations?status=&from=&to=&page=&page_size=.
// from/to accept RFC 3339 timestamps or YYYY-MM-DD dates.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	filter := Filter{HospitalID: hospitalID}
	verr := &validation.Error{}
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, ok := ParseStatus(part)
			if !ok {
				verr.Add("status", "unknown status "+strconv.Quote(part))
				continue
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	var err error
	if filter.From, err = parseBound(q.Get("from"), false); err != nil {
		verr.Add("from", "from must be a date or RFC 3339 timestamp")
	}
	if filter.To, err = parseBound(q.Get("to"), true); err != nil {
		verr.Add("to", "to must be a date or RFC 3339 timestamp")
	}
	if err := verr.OrNil(); err != nil {
		respond.Invalid(w, err)
		return
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

// parseBound reads a filter bound. A bare "to" date includes that whole day.
func parseBound(raw string, end bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.service.Get(r.Context(), hospitalID, chi.URLParam(r, "reservationID"))
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req statusRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to, ok := ParseStatus(req.Status)
	if !ok {
		respond.Invalid(w, validation.New("status", "status must be one of pending, confirmed, cancelled, completed"))
		return
	}
	res, err := h.service.SetStatus(r.Context(), hospitalID, chi.URLParam(r, "reservationID"), to)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, hospitalID string, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		respond.Invalid(w, err)
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, ErrHospitalNotFound):
		respond.Error(w, http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrInPast), errors.Is(err, ErrOutsideHours):
		respond.Invalid(w, validation.New("reserved_at", err.Error()))
	case errors.Is(err, ErrUnknownTreatment):
		respond.Invalid(w, validation.New("treatment_id", err.Error()))
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("reservation request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
