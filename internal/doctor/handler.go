package doctor

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const maxFormMemory = 32 << 20

// Handler exposes roster management to the signed-in admin.
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

// Routes mounts under /admin/doctors.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{doctorID}", h.Get)
	r.Put("/{doctorID}", h.Update)
	r.Delete("/{doctorID}", h.Delete)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	doctors, err := h.service.List(r.Context(), hospitalID)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	d, err := h.service.Get(r.Context(), hospitalID, chi.URLParam(r, "doctorID"))
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// Create handles POST /admin/doctors as multipart (fields + optional "image")
// or JSON.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	in, image, err := parseInput(r)
	if err != nil {
		respond.Invalid(w, err)
		return
	}
	d, err := h.service.Create(r.Context(), hospitalID, in, image)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	h.logger.Info("doctor created", "hospital_id", hospitalID, "doctor_id", d.ID)
	respond.JSON(w, http.StatusCreated, d)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	in, image, err := parseInput(r)
	if err != nil {
		respond.Invalid(w, err)
		return
	}
	d, err := h.service.Update(r.Context(), hospitalID, chi.URLParam(r, "doctorID"), in, image)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.service.Delete(r.Context(), hospitalID, chi.URLParam(r, "doctorID")); err != nil {
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
		respond.Error(w, http.StatusNotFound, "doctor not found")
	case errors.Is(err, ErrLimitReached):
		respond.Error(w, http.StatusConflict, "doctor limit reached")
	case storage.StatusCode(err) != 0:
		respond.Error(w, storage.StatusCode(err), err.Error())
	default:
		h.logger.Error("doctor request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseInput(r *http.Request) (Input, *multipart.FileHeader, error) {
	var in Input
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := respond.Decode(r, &in); err != nil {
			return in, nil, errors.New("invalid JSON body")
		}
		return in, nil, nil
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return in, nil, errors.New("invalid multipart form")
	}
	form := r.MultipartForm
	in = InputFromForm(form.Value)
	var image *multipart.FileHeader
	if files := form.File["image"]; len(files) > 0 {
		image = files[0]
	}
	return in, image, nil
}

// InputFromForm reads a doctor from form values. List fields accept repeated
// values or a single JSON array.
func InputFromForm(values map[string][]string) Input {
	get := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	list := func(key string) []string {
		v := values[key]
		if len(v) == 1 && strings.HasPrefix(strings.TrimSpace(v[0]), "[") {
			var items []string
			if err := json.Unmarshal([]byte(v[0]), &items); err == nil {
				return items
			}
		}
		return v
	}
	sortOrder, _ := strconv.Atoi(get("sort_order"))
	removeImage, _ := strconv.ParseBool(get("remove_image"))
	return Input{
		ID:          get("id"),
		Name:        get("name"),
		Position:    get("position"),
		Specialties: list("specialties"),
		Career:      list("career"),
		Education:   list("education"),
		SortOrder:   sortOrder,
		RemoveImage: removeImage,
	}
}
