package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository struct {
	db db
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("auth: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db db) *Repository {
	return &Repository{db: db}
}

// InTx runs fn inside one transaction with a repository bound to it.
func (r *Repository) InTx(ctx context.Context, fn func(tx pgx.Tx, repo *Repository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(tx, &Repository{db: tx})
	})
}

const adminColumns = `id, hospital_id, email, name, password_hash, last_login_at, created_at`

func scanAdmin(row pgx.Row) (*Admin, error) {
	var a Admin
	if err := row.Scan(&a.ID, &a.HospitalID, &a.Email, &a.Name, &a.PasswordHash, &a.LastLoginAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admin_users WHERE LOWER(email) = $1`
	a, err := scanAdmin(r.db.QueryRow(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: find admin: %w", err)
	}
	return a, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admin_users WHERE id = $1`
	a, err := scanAdmin(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get admin: %w", err)
	}
	return a, nil
}

func (r *Repository) Create(ctx context.Context, hospitalID, email, name, passwordHash string) (*Admin, error) {
	query := `
		INSERT INTO admin_users (hospital_id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + adminColumns
	a, err := scanAdmin(r.db.QueryRow(ctx, query, hospitalID, NormalizeEmail(email), name, passwordHash))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("auth: create admin: %w", err)
	}
	return a, nil
}

func (r *Repository) TouchLogin(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `UPDATE admin_users SET last_login_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: touch login: %w", err)
	}
	return nil
}

func (r *Repository) SetPassword(ctx context.Context, id, passwordHash string) error {
	ct, err := r.db.Exec(ctx, `UPDATE admin_users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("auth: set password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAdminNotFound
	}
	return nil
}
