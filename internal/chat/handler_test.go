package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-admin/internal/chat/sendbird"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

func newTestRouter(platform Platform) http.Handler {
	return newTestRouterWithDedupe(platform, nil)
}

func newTestRouterWithDedupe(platform Platform, dedupe Deduper) http.Handler {
	hub := NewHub(nil, logging.Discard())
	h := NewHandler(newTestService(platform, publishedHospitals(), hub, dedupe), hub, logging.Discard())
	r := chi.NewRouter()
	r.Route("/admin/chat", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if id := req.Header.Get("X-Test-Hospital"); id != "" {
					req = req.WithContext(tenancy.WithHospitalID(req.Context(), id))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Mount("/", h.Routes())
	})
	r.Post("/hospitals/{hospitalID}/chat/channels", h.OpenChannel)
	r.Post("/webhooks/sendbird", h.Webhook)
	return r
}

func TestAdminChatRequiresHospital(t *testing.T) {
	router := newTestRouter(newFakePlatform())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/chat/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartSessionHandler(t *testing.T) {
	router := newTestRouter(newFakePlatform())
	req := httptest.NewRequest(http.MethodPost, "/admin/chat/session", nil)
	req.Header.Set("X-Test-Hospital", testHospitalID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hospital_"+testHospitalID, body.UserID)
	assert.NotEmpty(t, body.Token)
}

func TestSendToForeignChannelIs404(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["other"] = &sendbird.Channel{ChannelURL: "other", Members: []sendbird.Member{{UserID: "hospital_x"}}}
	router := newTestRouter(platform)

	req := httptest.NewRequest(http.MethodPost, "/admin/chat/channels/other/messages", bytes.NewBufferString(`{"message":"hi"}`))
	req.Header.Set("X-Test-Hospital", testHospitalID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, platform.sent)
}

func TestSendOverlongMessageIs400(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["mine"] = &sendbird.Channel{ChannelURL: "mine", Members: []sendbird.Member{{UserID: "hospital_" + testHospitalID}}}
	router := newTestRouter(platform)

	payload, err := json.Marshal(map[string]string{"message": strings.Repeat("예약", maxMessageLength)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/chat/channels/mine/messages", bytes.NewReader(payload))
	req.Header.Set("X-Test-Hospital", testHospitalID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "5000 characters")
	assert.Empty(t, platform.sent)
}

func TestMarkReadHandler(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["mine"] = &sendbird.Channel{ChannelURL: "mine", Members: []sendbird.Member{{UserID: "hospital_" + testHospitalID}}}
	router := newTestRouter(platform)

	req := httptest.NewRequest(http.MethodPut, "/admin/chat/channels/mine/read", nil)
	req.Header.Set("X-Test-Hospital", testHospitalID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"mine"}, platform.read)
}

func TestOpenChannelHandler(t *testing.T) {
	router := newTestRouter(newFakePlatform())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hospitals/"+testHospitalID+"/chat/channels", bytes.NewBufferString(`{"nickname":"Jane"}`)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body PatientChannel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sendbird_group_channel_1", body.ChannelURL)
	assert.NotEmpty(t, body.PatientID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hospitals/unknown/chat/channels", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookHandlerSignature(t *testing.T) {
	router := newTestRouter(newFakePlatform())
	body := []byte(`{"category":"group_channel:join"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendbird", bytes.NewReader(body))
	req.Header.Set("x-sendbird-signature", "bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/sendbird", bytes.NewReader(body))
	req.Header.Set("x-sendbird-signature", sign(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookHandlerErrorStatus(t *testing.T) {
	malformed := []byte(`{"category":`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendbird", bytes.NewReader(malformed))
	req.Header.Set("x-sendbird-signature", sign(malformed))
	rec := httptest.NewRecorder()
	newTestRouter(newFakePlatform()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A store outage must surface as 5xx so the delivery is retried.
	body := []byte(messageWebhook)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/sendbird", bytes.NewReader(body))
	req.Header.Set("x-sendbird-signature", sign(body))
	rec = httptest.NewRecorder()
	newTestRouterWithDedupe(newFakePlatform(), failingDeduper{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
