package reservation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

func withHospital(req *http.Request) *http.Request {
	return req.WithContext(tenancy.WithHospitalID(req.Context(), hospitalID))
}

func TestHandlerCreateOutsideHours(t *testing.T) {
	svc, _ := newTestService(t, stubSchedules{status: hospital.StatusPublished, hours: weekdayHours()})
	h := NewHandler(svc, logging.Discard())

	r := chi.NewRouter()
	r.Post("/hospitals/{hospitalID}/reservations", h.Create)
	// Monday 20:00 in Seoul.
	body := `{"patient_name":"Jane","patient_phone":"010-1234-5678","reserved_at":"2026-03-02T11:00:00Z"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hospitals/"+hospitalID+"/reservations", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "reserved_at")
}

func TestHandlerSetStatusConflict(t *testing.T) {
	svc, mock := newTestService(t, nil)
	h := NewHandler(svc, logging.Discard())
	mock.ExpectQuery("FROM reservations WHERE hospital_id").WithArgs(hospitalID, reservationID).
		WillReturnRows(reservationRows(StatusCompleted))

	req := withHospital(httptest.NewRequest(http.MethodPatch, "/"+reservationID+"/status", strings.NewReader(`{"status":"cancelled"}`)))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerSetStatusUnknown(t *testing.T) {
	svc, _ := newTestService(t, nil)
	h := NewHandler(svc, logging.Discard())

	req := withHospital(httptest.NewRequest(http.MethodPatch, "/"+reservationID+"/status", strings.NewReader(`{"status":"noshow"}`)))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListDateRange(t *testing.T) {
	svc, mock := newTestService(t, nil)
	h := NewHandler(svc, logging.Discard())
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT").WithArgs(hospitalID, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("ORDER BY reserved_at").WithArgs(hospitalID, from, to).
		WillReturnRows(pgxmock.NewRows(reservationCols))

	req := withHospital(httptest.NewRequest(http.MethodGet, "/?from=2026-03-01&to=2026-03-07", nil))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerListRejectsBadDate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	h := NewHandler(svc, logging.Discard())

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, withHospital(httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
