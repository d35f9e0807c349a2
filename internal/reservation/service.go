package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/events"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// ScheduleSource loads a hospital with its opening hours.
type ScheduleSource interface {
	Schedule(ctx context.Context, id string) (*hospital.Hospital, hospital.Schedule, error)
}

type Service struct {
	repo      *Repository
	schedules ScheduleSource
	audit     *audit.Log
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(repo *Repository, schedules ScheduleSource, auditLog *audit.Log, m *metrics.Metrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:      repo,
		schedules: schedules,
		audit:     auditLog,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Create books a pending visit at a published hospital. The time must be in
// the future and inside opening hours.
func (s *Service) Create(ctx context.Context, hospitalID string, in Input) (*Reservation, error) {
	in.Normalize()
	if err := Validate(in); err != nil {
		return nil, err
	}
	if !in.ReservedAt.After(s.now()) {
		return nil, ErrInPast
	}

	h, schedule, err := s.schedules.Schedule(ctx, hospitalID)
	if errors.Is(err, hospital.ErrNotFound) {
		return nil, ErrHospitalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reservation: load schedule: %w", err)
	}
	if h.Status != hospital.StatusPublished {
		return nil, ErrHospitalNotFound
	}
	if !schedule.IsOpenAt(in.ReservedAt) {
		return nil, ErrOutsideHours
	}

	res, err := s.repo.Create(ctx, hospitalID, in, func(res *Reservation) (events.Record, error) {
		return events.NewRecord(hospitalID, events.TypeReservationCreated, events.ReservationCreatedV1{
			ReservationID: res.ID,
			HospitalID:    res.HospitalID,
			PatientName:   res.PatientName,
			PatientPhone:  res.PatientPhone,
			PatientEmail:  res.PatientEmail,
			TreatmentID:   res.TreatmentID,
			ReservedAt:    res.ReservedAt,
			Memo:          res.Memo,
			CreatedAt:     res.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveReservation(string(res.Status))
	s.logger.Info("reservation created", "hospital_id", hospitalID, "reservation_id", res.ID)
	return res, nil
}

func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, hospitalID, id string) (*Reservation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, hospitalID, id)
}

// SetStatus applies one transition of the reservation state machine.
func (s *Service) SetStatus(ctx context.Context, hospitalID, id string, to Status) (*Reservation, error) {
	current, err := s.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}
	res, err := s.repo.UpdateStatus(ctx, hospitalID, id, current.Status, to)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveReservation(string(to))
	s.audit.Record(ctx, audit.ActionReservationStatus, "reservation", id, map[string]Status{
		"from": current.Status,
		"to":   to,
	})
	return res, nil
}
