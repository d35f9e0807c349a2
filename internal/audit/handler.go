package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// Handler serves the audit trail of the signed-in admin's hospital.
type Handler struct {
	log    *Log
	logger *logging.Logger
}

func NewHandler(log *Log, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{log: log, logger: logger}
}

// List handles GET /admin/audit?limit=&action=&since=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	filter := Filter{HospitalID: hospitalID, Action: Action(q.Get("action"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}

	entries, err := h.log.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list audit entries", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
