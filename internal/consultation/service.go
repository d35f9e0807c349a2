package consultation

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/events"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

type Service struct {
	repo    *Repository
	audit   *audit.Log
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func NewService(repo *Repository, auditLog *audit.Log, m *metrics.Metrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, audit: auditLog, metrics: m, logger: logger}
}

// Submit records a patient inquiry for a published hospital.
func (s *Service) Submit(ctx context.Context, hospitalID string, in Input) (*Submission, error) {
	if _, err := uuid.Parse(hospitalID); err != nil {
		return nil, ErrHospitalNotFound
	}
	in.Normalize()
	if err := Validate(in); err != nil {
		return nil, err
	}
	sub, err := s.repo.Create(ctx, hospitalID, in, func(sub *Submission) (events.Record, error) {
		return events.NewRecord(hospitalID, events.TypeConsultationCreated, events.ConsultationCreatedV1{
			ConsultationID:   sub.ID,
			HospitalID:       sub.HospitalID,
			Name:             sub.Name,
			Phone:            sub.Phone,
			Email:            sub.Email,
			TreatmentIDs:     sub.TreatmentIDs,
			Message:          sub.Message,
			PreferredContact: sub.PreferredContact,
			CreatedAt:        sub.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveConsultation(sub.PreferredContact)
	s.logger.Info("consultation submitted", "hospital_id", hospitalID, "consultation_id", sub.ID)
	return sub, nil
}

func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, hospitalID, id string) (*Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, hospitalID, id)
}

// Update changes status and/or the admin note. Any status may move to any
// other, so a Done inquiry can be reopened as Retry.
func (s *Service) Update(ctx context.Context, hospitalID, id string, u Update) (*Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	if err := validation.ValidateStruct(u); err != nil {
		return nil, err
	}
	if u.Status == nil && u.AdminNote == nil {
		return nil, validation.New("status", "status or admin_note is required")
	}
	var status *Status
	if u.Status != nil {
		st, err := ParseStatus(*u.Status)
		if err != nil {
			return nil, validation.New("status", "status must be one of New, Retry, Done")
		}
		status = &st
	}

	sub, err := s.repo.Update(ctx, hospitalID, id, status, u.AdminNote)
	if err != nil {
		return nil, err
	}
	if status != nil {
		s.audit.Record(ctx, audit.ActionConsultationStatus, "consultation", id, map[string]any{
			"status":      sub.Status,
			"retry_count": sub.RetryCount,
		})
	}
	return sub, nil
}

func (s *Service) Summary(ctx context.Context, hospitalID string) (*Summary, error) {
	return s.repo.Summary(ctx, hospitalID)
}
