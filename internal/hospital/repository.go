package hospital

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// db is satisfied by *pgxpool.Pool and pgx.Tx.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists listing profiles, hours, facilities and images.
type Repository struct {
	db db
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("hospital: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db db) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

// InTx runs fn inside one transaction.
func (r *Repository) InTx(ctx context.Context, fn func(*Repository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(r.WithTx(tx))
	})
}

const hospitalColumns = `id, name, description, phone, email, website_url, address, address_detail,
	city, district, zip_code, latitude, longitude, directions, timezone, status, wizard_step,
	created_at, updated_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	var status string
	err := row.Scan(&h.ID, &h.Name, &h.Description, &h.Phone, &h.Email, &h.WebsiteURL,
		&h.Address, &h.AddressDetail, &h.City, &h.District, &h.ZipCode, &h.Latitude, &h.Longitude,
		&h.Directions, &h.Timezone, &status, &h.WizardStep, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Status = Status(status)
	return &h, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Hospital, error) {
	query := `SELECT ` + hospitalColumns + ` FROM hospitals WHERE id = $1`
	h, err := scanHospital(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hospital: get: %w", err)
	}
	return h, nil
}

// Create inserts an empty draft listing and returns its id.
func (r *Repository) Create(ctx context.Context, name string) (string, error) {
	var id string
	if err := r.db.QueryRow(ctx, `INSERT INTO hospitals (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return "", fmt.Errorf("hospital: create: %w", err)
	}
	return id, nil
}

// UpdateProfile applies the non-nil fields of u.
func (r *Repository) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*Hospital, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Phone != nil {
		add("phone", *u.Phone)
	}
	if u.Email != nil {
		add("email", *u.Email)
	}
	if u.WebsiteURL != nil {
		add("website_url", *u.WebsiteURL)
	}
	if u.Address != nil {
		add("address", *u.Address)
	}
	if u.AddressDetail != nil {
		add("address_detail", *u.AddressDetail)
	}
	if u.City != nil {
		add("city", *u.City)
	}
	if u.District != nil {
		add("district", *u.District)
	}
	if u.ZipCode != nil {
		add("zip_code", *u.ZipCode)
	}
	if u.Latitude != nil {
		add("latitude", *u.Latitude)
	}
	if u.Longitude != nil {
		add("longitude", *u.Longitude)
	}
	if u.Directions != nil {
		add("directions", *u.Directions)
	}
	if u.Timezone != nil {
		add("timezone", *u.Timezone)
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}

	query := `UPDATE hospitals SET `
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += `, updated_at = now() WHERE id = $1 RETURNING ` + hospitalColumns

	h, err := scanHospital(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hospital: update profile: %w", err)
	}
	return h, nil
}

// AdvanceWizardStep raises wizard_step to step; it never moves backwards.
func (r *Repository) AdvanceWizardStep(ctx context.Context, id string, step int) error {
	query := `UPDATE hospitals SET wizard_step = GREATEST(wizard_step, $2), updated_at = now() WHERE id = $1`
	ct, err := r.db.Exec(ctx, query, id, step)
	if err != nil {
		return fmt.Errorf("hospital: advance wizard step: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, id string, status Status) error {
	ct, err := r.db.Exec(ctx, `UPDATE hospitals SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("hospital: set status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetHours(ctx context.Context, id string) ([]OpeningHours, error) {
	query := `
		SELECT weekday, open_time, close_time, lunch_start, lunch_end, closed
		FROM hospital_opening_hours
		WHERE hospital_id = $1
		ORDER BY weekday
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("hospital: get hours: %w", err)
	}
	defer rows.Close()

	hours := []OpeningHours{}
	for rows.Next() {
		var h OpeningHours
		if err := rows.Scan(&h.Weekday, &h.Open, &h.Close, &h.LunchStart, &h.LunchEnd, &h.Closed); err != nil {
			return nil, fmt.Errorf("hospital: scan hours: %w", err)
		}
		hours = append(hours, h)
	}
	return hours, rows.Err()
}

// ReplaceHours overwrites the weekly schedule. Call inside InTx.
func (r *Repository) ReplaceHours(ctx context.Context, id string, hours []OpeningHours) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM hospital_opening_hours WHERE hospital_id = $1`, id); err != nil {
		return fmt.Errorf("hospital: clear hours: %w", err)
	}
	query := `
		INSERT INTO hospital_opening_hours (hospital_id, weekday, open_time, close_time, lunch_start, lunch_end, closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, h := range hours {
		if _, err := r.db.Exec(ctx, query, id, h.Weekday, h.Open, h.Close, h.LunchStart, h.LunchEnd, h.Closed); err != nil {
			return fmt.Errorf("hospital: insert hours for weekday %d: %w", h.Weekday, err)
		}
	}
	return nil
}

func (r *Repository) ListFacilityCodes(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT code FROM hospital_facilities WHERE hospital_id = $1 ORDER BY code`, id)
	if err != nil {
		return nil, fmt.Errorf("hospital: list facilities: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("hospital: scan facility: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ReplaceFacilities overwrites the facility set. Call inside InTx.
func (r *Repository) ReplaceFacilities(ctx context.Context, id string, codes []string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM hospital_facilities WHERE hospital_id = $1`, id); err != nil {
		return fmt.Errorf("hospital: clear facilities: %w", err)
	}
	if len(codes) == 0 {
		return nil
	}
	query := `INSERT INTO hospital_facilities (hospital_id, code) SELECT $1, unnest($2::text[])`
	if _, err := r.db.Exec(ctx, query, id, codes); err != nil {
		return fmt.Errorf("hospital: insert facilities: %w", err)
	}
	return nil
}

func (r *Repository) ListImages(ctx context.Context, id string) ([]Image, error) {
	query := `
		SELECT id, url, object_key, sort_order
		FROM hospital_images
		WHERE hospital_id = $1
		ORDER BY sort_order, created_at
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("hospital: list images: %w", err)
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.URL, &img.Key, &img.SortOrder); err != nil {
			return nil, fmt.Errorf("hospital: scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (r *Repository) CountImages(ctx context.Context, id string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM hospital_images WHERE hospital_id = $1`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("hospital: count images: %w", err)
	}
	return n, nil
}

// AddImage appends one image after the current last sort position.
func (r *Repository) AddImage(ctx context.Context, id, key, url string) (*Image, error) {
	query := `
		INSERT INTO hospital_images (hospital_id, object_key, url, sort_order)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM hospital_images WHERE hospital_id = $1))
		RETURNING id, url, object_key, sort_order
	`
	var img Image
	if err := r.db.QueryRow(ctx, query, id, key, url).Scan(&img.ID, &img.URL, &img.Key, &img.SortOrder); err != nil {
		return nil, fmt.Errorf("hospital: add image: %w", err)
	}
	return &img, nil
}

// DeleteImage removes the row and returns it so the caller can drop the object.
func (r *Repository) DeleteImage(ctx context.Context, id, imageID string) (*Image, error) {
	query := `
		DELETE FROM hospital_images
		WHERE hospital_id = $1 AND id = $2
		RETURNING id, url, object_key, sort_order
	`
	var img Image
	err := r.db.QueryRow(ctx, query, id, imageID).Scan(&img.ID, &img.URL, &img.Key, &img.SortOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hospital: delete image: %w", err)
	}
	return &img, nil
}
