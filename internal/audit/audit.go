// Package audit keeps an append-only log of admin mutations per hospital.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/tenancy"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// Action names a kind of admin mutation.
type Action string

const (
	ActionProfileUpdated     Action = "hospital.profile_updated"
	ActionHoursReplaced      Action = "hospital.hours_replaced"
	ActionFacilitiesReplaced Action = "hospital.facilities_replaced"
	ActionImagesAdded        Action = "hospital.images_added"
	ActionImageDeleted       Action = "hospital.image_deleted"
	ActionDoctorCreated      Action = "doctor.created"
	ActionDoctorUpdated      Action = "doctor.updated"
	ActionDoctorDeleted      Action = "doctor.deleted"
	ActionTreatmentsReplaced Action = "treatment.set_replaced"
	ActionTreatmentUpdated   Action = "treatment.updated"
	ActionTreatmentRemoved   Action = "treatment.removed"
	ActionReservationStatus  Action = "reservation.status_changed"
	ActionConsultationStatus Action = "consultation.status_changed"
	ActionWizardStep         Action = "wizard.step_submitted"
	ActionLogin              Action = "auth.login"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         string          `json:"id"`
	HospitalID string          `json:"hospital_id"`
	AdminID    string          `json:"admin_id,omitempty"`
	Action     Action          `json:"action"`
	Entity     string          `json:"entity,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Log writes audit entries. A nil *Log discards everything.
type Log struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

func NewLog(db *sql.DB, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Append stores entry as-is.
func (l *Log) Append(ctx context.Context, entry Entry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if len(entry.Details) == 0 {
		entry.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO admin_audit_log (
			id, hospital_id, admin_id, action, entity, entity_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := l.db.ExecContext(ctx, query,
		entry.ID,
		entry.HospitalID,
		entry.AdminID,
		string(entry.Action),
		entry.Entity,
		entry.EntityID,
		[]byte(entry.Details),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// Record appends an entry for the hospital and admin carried in ctx.
// Failures are logged, not returned; the mutation has already committed.
func (l *Log) Record(ctx context.Context, action Action, entity, entityID string, details any) {
	if l == nil || l.db == nil {
		return
	}
	hospitalID, ok := tenancy.HospitalIDFromContext(ctx)
	if !ok {
		l.logger.Warn("audit entry without hospital", "action", action)
		return
	}
	adminID, _ := tenancy.AdminIDFromContext(ctx)

	var raw json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			l.logger.Warn("audit details not serializable", "action", action, "error", err)
		} else {
			raw = data
		}
	}

	err := l.Append(ctx, Entry{
		HospitalID: hospitalID,
		AdminID:    adminID,
		Action:     action,
		Entity:     entity,
		EntityID:   entityID,
		Details:    raw,
	})
	if err != nil {
		l.logger.Error("failed to write audit entry", "action", action, "hospital_id", hospitalID, "error", err)
	}
}

// Filter narrows List.
type Filter struct {
	HospitalID string
	Action     Action
	Since      time.Time
	Limit      int
}

// List returns the newest entries first.
func (l *Log) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if l == nil || l.db == nil {
		return []Entry{}, nil
	}
	query := `
		SELECT id, hospital_id, admin_id, action, entity, entity_id, details, created_at
		FROM admin_audit_log
		WHERE hospital_id = $1
	`
	args := []any{filter.HospitalID}
	argIdx := 2

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, string(filter.Action))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var action string
		var details []byte
		if err := rows.Scan(&e.ID, &e.HospitalID, &e.AdminID, &action, &e.Entity, &e.EntityID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Action = Action(action)
		e.Details = json.RawMessage(details)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, nil
}
