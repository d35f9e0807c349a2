package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-admin/internal/http/middleware"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const (
	secret     = "test-secret"
	adminID    = "6f1c1a52-6a4c-4a8e-9d7e-1d1c4b0a00a1"
	hospitalID = "6f1c1a52-6a4c-4a8e-9d7e-1d1c4b0a0001"
)

var adminCols = []string{"id", "hospital_id", "email", "name", "password_hash", "last_login_at", "created_at"}

func adminRows(t *testing.T, password string) *pgxmock.Rows {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	now := time.Now().UTC()
	return pgxmock.NewRows(adminCols).AddRow(adminID, hospitalID, "owner@clinic.kr", "Owner", hash, &now, now)
}

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	cfg := SessionConfig{Secret: secret, CookieName: "admin_session", TTL: time.Hour, CookieSecure: true}
	return NewService(NewRepositoryWithDB(mock), cfg, nil, logging.Discard()), mock
}

func TestHashPasswordRejectsShort(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestLoginIssuesToken(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery("FROM admin_users WHERE LOWER").WithArgs("owner@clinic.kr").
		WillReturnRows(adminRows(t, "correct horse"))
	mock.ExpectExec("UPDATE admin_users SET last_login_at").WithArgs(adminID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	session, err := svc.Login(context.Background(), "  Owner@Clinic.KR ", "correct horse")
	require.NoError(t, err)

	claims, err := middleware.ParseAdminToken(secret, session.Token)
	require.NoError(t, err)
	assert.Equal(t, adminID, claims.Subject)
	assert.Equal(t, hospitalID, claims.HospitalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginSameErrorForUnknownEmailAndBadPassword(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery("FROM admin_users WHERE LOWER").WithArgs("ghost@clinic.kr").
		WillReturnRows(pgxmock.NewRows(adminCols))
	_, err := svc.Login(context.Background(), "ghost@clinic.kr", "whatever1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	mock.ExpectQuery("FROM admin_users WHERE LOWER").WithArgs("owner@clinic.kr").
		WillReturnRows(adminRows(t, "correct horse"))
	_, err = svc.Login(context.Background(), "owner@clinic.kr", "wrong horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestProvisionCreatesHospitalAndAdmin(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO hospitals").WithArgs("Gangnam Skin").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(hospitalID))
	mock.ExpectQuery("INSERT INTO admin_users").
		WithArgs(hospitalID, "owner@clinic.kr", "Owner", pgxmock.AnyArg()).
		WillReturnRows(adminRows(t, "correct horse"))
	mock.ExpectCommit()
	mock.ExpectRollback()

	admin, err := svc.Provision(context.Background(), ProvisionInput{
		HospitalName: "Gangnam Skin", Email: "Owner@clinic.kr", Name: "Owner", Password: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, hospitalID, admin.HospitalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionDuplicateEmail(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO hospitals").WithArgs("Gangnam Skin").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(hospitalID))
	mock.ExpectQuery("INSERT INTO admin_users").
		WithArgs(hospitalID, "owner@clinic.kr", "", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	// pgx.BeginFunc rolls back once on failure and once more in its defer.
	mock.ExpectRollback()
	mock.ExpectRollback()

	_, err := svc.Provision(context.Background(), ProvisionInput{
		HospitalName: "Gangnam Skin", Email: "owner@clinic.kr", Password: "correct horse",
	})
	assert.True(t, errors.Is(err, ErrEmailTaken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerLoginSetsCookie(t *testing.T) {
	svc, mock := newTestService(t)
	h := NewHandler(svc, logging.Discard())
	mock.ExpectQuery("FROM admin_users WHERE LOWER").WithArgs("owner@clinic.kr").
		WillReturnRows(adminRows(t, "correct horse"))
	mock.ExpectExec("UPDATE admin_users SET last_login_at").WithArgs(adminID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	body := `{"email":"owner@clinic.kr","password":"correct horse"}`
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "admin_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.NotContains(t, rec.Body.String(), "password_hash")
}

func TestHandlerLoginUnauthorized(t *testing.T) {
	svc, mock := newTestService(t)
	h := NewHandler(svc, logging.Discard())
	mock.ExpectQuery("FROM admin_users WHERE LOWER").WithArgs("x@y.kr").WillReturnRows(pgxmock.NewRows(adminCols))

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"x@y.kr","password":"nope1234"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerLogoutExpiresCookie(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, logging.Discard())

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestHandlerMe(t *testing.T) {
	svc, mock := newTestService(t)
	h := NewHandler(svc, logging.Discard())
	mock.ExpectQuery("FROM admin_users WHERE id").WithArgs(adminID).
		WillReturnRows(adminRows(t, "correct horse"))

	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	req = req.WithContext(tenancy.WithAdminID(req.Context(), adminID))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "owner@clinic.kr", body["email"])
	assert.NotContains(t, body, "password_hash")
}
