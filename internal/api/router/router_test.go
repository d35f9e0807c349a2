package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-admin/internal/chat"
	httpmiddleware "github.com/wolfman30/clinic-admin/internal/http/middleware"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const (
	testSecret     = "router-secret"
	testCookie     = "clinic_admin_session"
	testHospitalID = "9a1e4f7c-3b2d-4c8e-a6f0-5d7b1c2e3f40"
)

func newTestConfig() *Config {
	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	hub := chat.NewHub(nil, logger)
	// A chat service without a Sendbird client answers 503 for every call.
	chatService := chat.NewService(nil, nil, hub, nil, chat.Config{APIToken: "sb-token"}, logger)
	return &Config{
		Logger:             logger,
		Metrics:            metrics.New(reg),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Chat:               chat.NewHandler(chatService, hub, logger),
		AdminJWTSecret:     testSecret,
		AdminSessionCookie: testCookie,
	}
}

func sessionToken(t *testing.T) string {
	t.Helper()
	token, err := httpmiddleware.SignAdminToken(testSecret, httpmiddleware.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		HospitalID: testHospitalID,
		Email:      "owner@clinic.test",
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := New(newTestConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterMetricsEndpointCountsRequests(t *testing.T) {
	router := New(newTestConfig())
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `route="/health"`) {
		t.Errorf("expected /health in http metrics, got:\n%s", rr.Body.String())
	}
}

func TestRouterAdminRequiresSession(t *testing.T) {
	router := New(newTestConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/chat/session", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/chat/session", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: sessionToken(t)})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected session to reach the chat handler (503), got %d", rr.Code)
	}
}

func TestRouterPublicHospitalRoutes(t *testing.T) {
	router := New(newTestConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/hospitals/not-a-uuid/chat/channels", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed hospital id, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/hospitals/"+testHospitalID+"/chat/channels", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected chat handler to answer 503, got %d", rr.Code)
	}
}

func TestRouterThrottlesPublicWrites(t *testing.T) {
	cfg := newTestConfig()
	cfg.PublicLimiter = httpmiddleware.NewRateLimiter(0.001, 1)
	defer cfg.PublicLimiter.Close()
	router := New(cfg)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/hospitals/"+testHospitalID+"/chat/channels", nil))
		codes = append(codes, rr.Code)
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %v", codes)
	}
}

// The Sendbird webhook must stay mounted whenever chat is configured;
// otherwise Sendbird sees 404s and disables the endpoint.
func TestRouterSendbirdWebhookRegistered(t *testing.T) {
	router := New(newTestConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/sendbird", strings.NewReader("{}")))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected signature rejection, got %d", rr.Code)
	}

	cfg := newTestConfig()
	cfg.Chat = nil
	rr = httptest.NewRecorder()
	New(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/sendbird", strings.NewReader("{}")))
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 404/405 without chat, got %d", rr.Code)
	}
}
