package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-admin/internal/events"
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
		panic("reservation: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db db) *Repository {
	return &Repository{db: db}
}

const columns = `id, hospital_id, COALESCE(treatment_id, ''), patient_name, patient_phone, patient_email,
	reserved_at, memo, status, created_at, updated_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var status string
	err := row.Scan(&r.ID, &r.HospitalID, &r.TreatmentID, &r.PatientName, &r.PatientPhone, &r.PatientEmail,
		&r.ReservedAt, &r.Memo, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

// Create inserts a pending reservation and its outbox event atomically.
func (r *Repository) Create(ctx context.Context, hospitalID string, in Input, event func(*Reservation) (events.Record, error)) (*Reservation, error) {
	var out *Reservation
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if in.TreatmentID != "" {
			var offered bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM hospital_treatments WHERE hospital_id = $1 AND treatment_id = $2)`,
				hospitalID, in.TreatmentID).Scan(&offered)
			if err != nil {
				return fmt.Errorf("reservation: check treatment: %w", err)
			}
			if !offered {
				return ErrUnknownTreatment
			}
		}

		query := `
			INSERT INTO reservations (hospital_id, treatment_id, patient_name, patient_phone, patient_email, reserved_at, memo)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
			RETURNING ` + columns
		res, err := scanReservation(tx.QueryRow(ctx, query, hospitalID, in.TreatmentID, in.PatientName,
			in.PatientPhone, in.PatientEmail, in.ReservedAt, in.Memo))
		if err != nil {
			return fmt.Errorf("reservation: insert: %w", err)
		}
		if event != nil {
			rec, err := event(res)
			if err != nil {
				return err
			}
			if err := events.InsertTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, hospitalID, id string) (*Reservation, error) {
	query := `SELECT ` + columns + ` FROM reservations WHERE hospital_id = $1 AND id = $2`
	res, err := scanReservation(r.db.QueryRow(ctx, query, hospitalID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reservation: get: %w", err)
	}
	return res, nil
}

func (r *Repository) List(ctx context.Context, f Filter) (*Page, error) {
	f.normalize()

	where := ` WHERE hospital_id = $1`
	args := []any{f.HospitalID}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where += fmt.Sprintf(" AND reserved_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where += fmt.Sprintf(" AND reserved_at < $%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("reservation: count: %w", err)
	}

	query := `SELECT ` + columns + ` FROM reservations` + where +
		fmt.Sprintf(" ORDER BY reserved_at DESC LIMIT %d OFFSET %d", f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reservation: list: %w", err)
	}
	defer rows.Close()

	items := []Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("reservation: scan: %w", err)
		}
		items = append(items, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reservation: rows: %w", err)
	}
	return &Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// UpdateStatus moves a reservation from one status to another. It matches on
// the expected current status so a concurrent change is not overwritten.
func (r *Repository) UpdateStatus(ctx context.Context, hospitalID, id string, from, to Status) (*Reservation, error) {
	query := `
		UPDATE reservations SET status = $4, updated_at = now()
		WHERE hospital_id = $1 AND id = $2 AND status = $3
		RETURNING ` + columns
	res, err := scanReservation(r.db.QueryRow(ctx, query, hospitalID, id, string(from), string(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("reservation: update status: %w", err)
	}
	return res, nil
}
