package doctor

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

// Repository stores doctors in Postgres.
type Repository struct {
	db db
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("doctor: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db db) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) InTx(ctx context.Context, fn func(*Repository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(r.WithTx(tx))
	})
}

const columns = `id, hospital_id, name, position, specialties, career, education,
	image_url, image_key, sort_order, created_at, updated_at`

func scan(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.HospitalID, &d.Name, &d.Position, &d.Specialties, &d.Career,
		&d.Education, &d.ImageURL, &d.ImageKey, &d.SortOrder, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) List(ctx context.Context, hospitalID string) ([]Doctor, error) {
	query := `SELECT ` + columns + ` FROM doctors WHERE hospital_id = $1 ORDER BY sort_order, created_at`
	rows, err := r.db.Query(ctx, query, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("doctor: list: %w", err)
	}
	defer rows.Close()

	doctors := []Doctor{}
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("doctor: scan: %w", err)
		}
		doctors = append(doctors, *d)
	}
	return doctors, rows.Err()
}

func (r *Repository) Get(ctx context.Context, hospitalID, id string) (*Doctor, error) {
	query := `SELECT ` + columns + ` FROM doctors WHERE hospital_id = $1 AND id = $2`
	d, err := scan(r.db.QueryRow(ctx, query, hospitalID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctor: get: %w", err)
	}
	return d, nil
}

func (r *Repository) Count(ctx context.Context, hospitalID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM doctors WHERE hospital_id = $1`, hospitalID).Scan(&n); err != nil {
		return 0, fmt.Errorf("doctor: count: %w", err)
	}
	return n, nil
}

func (r *Repository) Create(ctx context.Context, d *Doctor) (*Doctor, error) {
	query := `
		INSERT INTO doctors (hospital_id, name, position, specialties, career, education, image_url, image_key, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + columns
	out, err := scan(r.db.QueryRow(ctx, query, d.HospitalID, d.Name, d.Position, d.Specialties,
		d.Career, d.Education, d.ImageURL, d.ImageKey, d.SortOrder))
	if err != nil {
		return nil, fmt.Errorf("doctor: create: %w", err)
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, d *Doctor) (*Doctor, error) {
	query := `
		UPDATE doctors
		SET name = $3, position = $4, specialties = $5, career = $6, education = $7,
			image_url = $8, image_key = $9, sort_order = $10, updated_at = now()
		WHERE hospital_id = $1 AND id = $2
		RETURNING ` + columns
	out, err := scan(r.db.QueryRow(ctx, query, d.HospitalID, d.ID, d.Name, d.Position, d.Specialties,
		d.Career, d.Education, d.ImageURL, d.ImageKey, d.SortOrder))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctor: update: %w", err)
	}
	return out, nil
}

// Delete removes a doctor and returns the deleted row.
func (r *Repository) Delete(ctx context.Context, hospitalID, id string) (*Doctor, error) {
	query := `DELETE FROM doctors WHERE hospital_id = $1 AND id = $2 RETURNING ` + columns
	d, err := scan(r.db.QueryRow(ctx, query, hospitalID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctor: delete: %w", err)
	}
	return d, nil
}
