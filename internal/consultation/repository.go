package consultation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/wolfman30/clinic-admin/internal/events"
)

const columns = `id, hospital_id, name, phone, email, treatment_ids, message, preferred_contact,
	status, retry_count, admin_note, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*Submission, error) {
	var s Submission
	var status string
	err := row.Scan(&s.ID, &s.HospitalID, &s.Name, &s.Phone, &s.Email, pq.Array(&s.TreatmentIDs),
		&s.Message, &s.PreferredContact, &status, &s.RetryCount, &s.AdminNote, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.TreatmentIDs == nil {
		s.TreatmentIDs = []string{}
	}
	s.Status = Status(status)
	return &s, nil
}

// Repository persists submissions with database/sql.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("consultation: sql db required")
	}
	return &Repository{db: db}
}

// Create stores a submission and enqueues its outbox event in one
// transaction. The hospital must be published.
func (r *Repository) Create(ctx context.Context, hospitalID string, in Input, event func(*Submission) (events.Record, error)) (*Submission, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("consultation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM hospitals WHERE id = $1`, hospitalID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && status != "published") {
		return nil, ErrHospitalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consultation: load hospital: %w", err)
	}

	query := `
		INSERT INTO consultations (hospital_id, name, phone, email, treatment_ids, message, preferred_contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + columns
	s, err := scanSubmission(tx.QueryRowContext(ctx, query,
		hospitalID, in.Name, in.Phone, in.Email, pq.Array(in.TreatmentIDs), in.Message, in.PreferredContact))
	if err != nil {
		return nil, fmt.Errorf("consultation: insert: %w", err)
	}

	if event != nil {
		rec, err := event(s)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, events.InsertQuery, rec.Args()...); err != nil {
			return nil, fmt.Errorf("consultation: enqueue event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consultation: commit: %w", err)
	}
	return s, nil
}

func (r *Repository) Get(ctx context.Context, hospitalID, id string) (*Submission, error) {
	query := `SELECT ` + columns + ` FROM consultations WHERE hospital_id = $1 AND id = $2`
	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, hospitalID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consultation: get: %w", err)
	}
	return s, nil
}

// List returns one page, newest first, plus the total match count.
func (r *Repository) List(ctx context.Context, f Filter) (*Page, error) {
	f.normalize()

	where := ` WHERE hospital_id = $1`
	args := []any{f.HospitalID}
	argIdx := 2

	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		where += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, pq.Array(statuses))
		argIdx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR phone ILIKE $%d OR email ILIKE $%d OR message ILIKE $%d)",
			argIdx, argIdx, argIdx, argIdx)
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consultations`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("consultation: count: %w", err)
	}

	query := `SELECT ` + columns + ` FROM consultations` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("consultation: list: %w", err)
	}
	defer rows.Close()

	items := []Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("consultation: scan: %w", err)
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("consultation: rows: %w", err)
	}
	return &Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// Update applies a status and/or note change. Entering Retry from another
// status bumps retry_count; re-saving Retry leaves it alone.
func (r *Repository) Update(ctx context.Context, hospitalID, id string, status *Status, note *string) (*Submission, error) {
	sets := []string{"updated_at = now()"}
	args := []any{hospitalID, id}
	if status != nil {
		args = append(args, string(*status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
		if *status == StatusRetry {
			sets = append(sets, "retry_count = retry_count + CASE WHEN status <> 'Retry' THEN 1 ELSE 0 END")
		}
	}
	if note != nil {
		args = append(args, *note)
		sets = append(sets, fmt.Sprintf("admin_note = $%d", len(args)))
	}
	query := `UPDATE consultations SET ` + strings.Join(sets, ", ") +
		` WHERE hospital_id = $1 AND id = $2 RETURNING ` + columns
	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consultation: update: %w", err)
	}
	return s, nil
}

func (r *Repository) Summary(ctx context.Context, hospitalID string) (*Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM consultations WHERE hospital_id = $1 GROUP BY status`, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("consultation: summary: %w", err)
	}
	defer rows.Close()

	var out Summary
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("consultation: scan summary: %w", err)
		}
		switch Status(status) {
		case StatusNew:
			out.New = n
		case StatusRetry:
			out.Retry = n
		case StatusDone:
			out.Done = n
		}
		out.Total += n
	}
	return &out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
