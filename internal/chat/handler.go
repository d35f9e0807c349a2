package chat

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-admin/internal/chat/sendbird"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const maxWebhookBytes = 1 << 20

type Handler struct {
	service *Service
	hub     *Hub
	logger  *logging.Logger
}

func NewHandler(service *Service, hub *Hub, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, hub: hub, logger: logger}
}

// Routes mounts under /admin/chat.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/session", h.StartSession)
	r.Get("/channels", h.ListChannels)
	r.Get("/channels/{channelURL}/messages", h.Messages)
	r.Post("/channels/{channelURL}/messages", h.Send)
	r.Put("/channels/{channelURL}/read", h.MarkRead)
	r.Get("/ws", h.Socket)
	return r
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	session, err := h.service.StartSession(r.Context(), hospitalID)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, session)
}

func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.service.ListChannels(r.Context(), hospitalID, r.URL.Query().Get("token"), limit)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	before, _ := strconv.ParseInt(q.Get("before"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	msgs, err := h.service.Messages(r.Context(), hospitalID, chi.URLParam(r, "channelURL"), before, limit)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	if msgs == nil {
		msgs = []sendbird.Message{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendRequest struct {
	Message string `json:"message"`
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req sendRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := h.service.Send(r.Context(), hospitalID, chi.URLParam(r, "channelURL"), req.Message)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.service.MarkRead(r.Context(), hospitalID, chi.URLParam(r, "channelURL")); err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Socket upgrades GET /admin/chat/ws.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.hub == nil {
		respond.Error(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	h.hub.Serve(w, r, hospitalID)
}

type openChannelRequest struct {
	PatientID string `json:"patient_id"`
	Nickname  string `json:"nickname"`
}

// OpenChannel handles POST /hospitals/{hospitalID}/chat/channels.
func (h *Handler) OpenChannel(w http.ResponseWriter, r *http.Request) {
	hospitalID := chi.URLParam(r, "hospitalID")
	var req openChannelRequest
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
			respond.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	ch, err := h.service.OpenPatientChannel(r.Context(), hospitalID, req.PatientID, req.Nickname)
	if err != nil {
		h.writeError(w, hospitalID, err)
		return
	}
	respond.JSON(w, http.StatusCreated, ch)
}

// Webhook handles POST /webhooks/sendbird.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	err = h.service.HandleWebhook(r.Context(), body, r.Header.Get("x-sendbird-signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrInvalidSignature):
		respond.Error(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, ErrInvalidPayload):
		h.logger.Warn("sendbird webhook rejected", "error", err)
		respond.Error(w, http.StatusBadRequest, "invalid webhook payload")
	default:
		// 5xx makes Sendbird redeliver.
		h.logger.Error("sendbird webhook failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "webhook processing failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, hospitalID string, err error) {
	var apiErr *sendbird.APIError
	switch {
	case errors.Is(err, ErrNotConfigured):
		respond.Error(w, http.StatusServiceUnavailable, "chat is not configured")
	case errors.Is(err, ErrChannelNotFound):
		respond.Error(w, http.StatusNotFound, "channel not found")
	case errors.Is(err, ErrHospitalNotFound), errors.Is(err, hospital.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrEmptyMessage):
		respond.Error(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, ErrMessageTooLong):
		respond.Error(w, http.StatusBadRequest, fmt.Sprintf("message exceeds %d characters", maxMessageLength))
	case errors.Is(err, sendbird.ErrUnavailable):
		respond.Error(w, http.StatusServiceUnavailable, "chat service unavailable")
	case errors.As(err, &apiErr):
		h.logger.Warn("sendbird request rejected", "hospital_id", hospitalID, "status", apiErr.StatusCode, "code", apiErr.Code)
		respond.Error(w, http.StatusBadGateway, "chat service error")
	default:
		h.logger.Error("chat request failed", "hospital_id", hospitalID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
