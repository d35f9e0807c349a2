package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/http/middleware"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// SessionConfig controls how session tokens are issued.
type SessionConfig struct {
	Secret       string
	CookieName   string
	TTL          time.Duration
	CookieSecure bool
}

// Session is a signed-in admin with their token.
type Session struct {
	Admin     *Admin    `json:"admin"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	repo   *Repository
	cfg    SessionConfig
	audit  *audit.Log
	logger *logging.Logger
	now    func() time.Time
}

func NewService(repo *Repository, cfg SessionConfig, auditLog *audit.Log, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	return &Service{repo: repo, cfg: cfg, audit: auditLog, logger: logger, now: time.Now}
}

// Login verifies credentials and issues a session token. Unknown email and
// wrong password return the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if s.cfg.Secret == "" {
		return nil, errors.New("auth: session secret not configured")
	}
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	admin, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrAdminNotFound) {
		CheckPassword(string(dummyHash), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(admin.PasswordHash, password) {
		s.logger.Warn("admin login rejected", "admin_id", admin.ID)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.cfg.TTL)
	token, err := middleware.SignAdminToken(s.cfg.Secret, middleware.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		HospitalID: admin.HospitalID,
		Email:      admin.Email,
		Name:       admin.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: sign token: %w", err)
	}

	if err := s.repo.TouchLogin(ctx, admin.ID); err != nil {
		s.logger.Warn("failed to record login time", "admin_id", admin.ID, "error", err)
	}
	auditCtx := tenancy.WithAdminID(tenancy.WithHospitalID(ctx, admin.HospitalID), admin.ID)
	s.audit.Record(auditCtx, audit.ActionLogin, "admin", admin.ID, nil)
	s.logger.Info("admin signed in", "admin_id", admin.ID, "hospital_id", admin.HospitalID)

	return &Session{Admin: admin, Token: token, ExpiresAt: expires}, nil
}

func (s *Service) Me(ctx context.Context, adminID string) (*Admin, error) {
	return s.repo.Get(ctx, adminID)
}

// ProvisionInput creates a draft listing together with its admin.
type ProvisionInput struct {
	HospitalName string
	Email        string
	Name         string
	Password     string
}

// Provision creates a draft hospital and its admin account in one
// transaction.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (*Admin, error) {
	in.HospitalName = strings.TrimSpace(in.HospitalName)
	if in.HospitalName == "" {
		return nil, errors.New("auth: hospital name is required")
	}
	if !strings.Contains(in.Email, "@") {
		return nil, errors.New("auth: a valid email is required")
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var admin *Admin
	err = s.repo.InTx(ctx, func(tx pgx.Tx, repo *Repository) error {
		hospitalID, err := hospital.NewRepositoryWithDB(tx).Create(ctx, in.HospitalName)
		if err != nil {
			return err
		}
		admin, err = repo.Create(ctx, hospitalID, in.Email, strings.TrimSpace(in.Name), hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return admin, nil
}

// ResetPassword replaces the password of the admin with email.
func (s *Service) ResetPassword(ctx context.Context, email, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	admin, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, admin.ID, hash)
}
