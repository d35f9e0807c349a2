package treatment

import (
	"context"
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
		panic("treatment: pgx pool required")
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

// Catalog returns every category with its treatments, in display order.
func (r *Repository) Catalog(ctx context.Context) ([]Category, error) {
	query := `
		SELECT c.id, c.name, t.id, t.name
		FROM treatment_categories c
		LEFT JOIN treatments t ON t.category_id = c.id
		ORDER BY c.sort_order, c.id, t.sort_order, t.id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("treatment: catalog: %w", err)
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var catID, catName string
		var tID, tName *string
		if err := rows.Scan(&catID, &catName, &tID, &tName); err != nil {
			return nil, fmt.Errorf("treatment: scan catalog: %w", err)
		}
		if n := len(categories); n == 0 || categories[n-1].ID != catID {
			categories = append(categories, Category{ID: catID, Name: catName, Treatments: []Treatment{}})
		}
		if tID != nil {
			last := &categories[len(categories)-1]
			last.Treatments = append(last.Treatments, Treatment{ID: *tID, CategoryID: catID, Name: deref(tName)})
		}
	}
	return categories, rows.Err()
}

// UnknownIDs returns the ids that are not in the catalog.
func (r *Repository) UnknownIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM treatments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("treatment: lookup ids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("treatment: scan id: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var unknown []string
	for _, id := range ids {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

const hospitalColumns = `ht.id, ht.hospital_id, ht.treatment_id, t.name, t.category_id,
	ht.price_min, ht.price_max, ht.price_text, ht.description, ht.featured`

func scanHospitalTreatment(row pgx.Row) (*HospitalTreatment, error) {
	var ht HospitalTreatment
	err := row.Scan(&ht.ID, &ht.HospitalID, &ht.TreatmentID, &ht.TreatmentName, &ht.CategoryID,
		&ht.PriceMin, &ht.PriceMax, &ht.PriceText, &ht.Description, &ht.Featured)
	if err != nil {
		return nil, err
	}
	return &ht, nil
}

func (r *Repository) List(ctx context.Context, hospitalID string) ([]HospitalTreatment, error) {
	query := `
		SELECT ` + hospitalColumns + `
		FROM hospital_treatments ht
		JOIN treatments t ON t.id = ht.treatment_id
		WHERE ht.hospital_id = $1
		ORDER BY ht.featured DESC, t.category_id, t.sort_order
	`
	rows, err := r.db.Query(ctx, query, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("treatment: list: %w", err)
	}
	defer rows.Close()

	out := []HospitalTreatment{}
	for rows.Next() {
		ht, err := scanHospitalTreatment(rows)
		if err != nil {
			return nil, fmt.Errorf("treatment: scan: %w", err)
		}
		out = append(out, *ht)
	}
	return out, rows.Err()
}

// Upsert prices one treatment for the hospital.
func (r *Repository) Upsert(ctx context.Context, hospitalID string, in Input) (*HospitalTreatment, error) {
	query := `
		WITH ht AS (
			INSERT INTO hospital_treatments (hospital_id, treatment_id, price_min, price_max, price_text, description, featured)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (hospital_id, treatment_id) DO UPDATE
			SET price_min = EXCLUDED.price_min, price_max = EXCLUDED.price_max, price_text = EXCLUDED.price_text,
				description = EXCLUDED.description, featured = EXCLUDED.featured, updated_at = now()
			RETURNING *
		)
		SELECT ` + hospitalColumns + `
		FROM ht JOIN treatments t ON t.id = ht.treatment_id
	`
	ht, err := scanHospitalTreatment(r.db.QueryRow(ctx, query, hospitalID, in.TreatmentID,
		in.PriceMin, in.PriceMax, in.PriceText, in.Description, in.Featured))
	if err != nil {
		return nil, fmt.Errorf("treatment: upsert: %w", err)
	}
	return ht, nil
}

// DeleteAll clears the hospital's selection. Call inside InTx.
func (r *Repository) DeleteAll(ctx context.Context, hospitalID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM hospital_treatments WHERE hospital_id = $1`, hospitalID); err != nil {
		return fmt.Errorf("treatment: clear: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, hospitalID, treatmentID string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM hospital_treatments WHERE hospital_id = $1 AND treatment_id = $2`, hospitalID, treatmentID)
	if err != nil {
		return fmt.Errorf("treatment: delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSet swaps the hospital's whole selection for inputs.
func ReplaceSet(ctx context.Context, repo *Repository, hospitalID string, inputs []Input) ([]HospitalTreatment, error) {
	if err := repo.DeleteAll(ctx, hospitalID); err != nil {
		return nil, err
	}
	out := make([]HospitalTreatment, 0, len(inputs))
	for _, in := range inputs {
		ht, err := repo.Upsert(ctx, hospitalID, in)
		if err != nil {
			return nil, err
		}
		out = append(out, *ht)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
