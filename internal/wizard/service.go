package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/doctor"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/treatment"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// db is satisfied by *pgxpool.Pool and pgxmock.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ErrDraftsDisabled is returned when no Redis is configured.
var ErrDraftsDisabled = errors.New("wizard: drafts are not available")

type Service struct {
	db      db
	images  *storage.Store
	drafts  *DraftStore
	audit   *audit.Log
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func NewService(pool *pgxpool.Pool, images *storage.Store, drafts *DraftStore, auditLog *audit.Log, m *metrics.Metrics, logger *logging.Logger) *Service {
	if pool == nil {
		panic("wizard: pgx pool required")
	}
	return NewServiceWithDB(pool, images, drafts, auditLog, m, logger)
}

// NewServiceWithDB allows injecting a mock database for testing.
func NewServiceWithDB(db db, images *storage.Store, drafts *DraftStore, auditLog *audit.Log, m *metrics.Metrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{db: db, images: images, drafts: drafts, audit: auditLog, metrics: m, logger: logger}
}

func (s *Service) Progress(ctx context.Context, hospitalID string) (*Progress, error) {
	h, err := hospital.NewRepositoryWithDB(s.db).Get(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	return ProgressOf(h), nil
}

// plan is a validated step ready to persist. apply runs inside the step's
// transaction; stale collects object keys to delete after commit.
type plan struct {
	apply   func(ctx context.Context, tx pgx.Tx) error
	stale   []string
	details any
}

// SubmitStep validates, uploads and persists one step. Objects uploaded for
// the step are removed again when anything after the upload fails.
func (s *Service) SubmitStep(ctx context.Context, hospitalID string, step int, form *multipart.Form) (progress *Progress, err error) {
	if StepName(step) == "" {
		return nil, ErrUnknownStep
	}
	defer func() { s.metrics.ObserveWizardStep(step, err) }()

	h, err := hospital.NewRepositoryWithDB(s.db).Get(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	if h.WizardStep < step-1 {
		return nil, fmt.Errorf("%w: complete step %d first", ErrStepLocked, h.WizardStep+1)
	}
	if form == nil {
		form = &multipart.Form{}
	}

	tracker := s.images.Track()
	var p *plan
	switch step {
	case StepBasicInfo:
		p, err = s.basicInfo(ctx, h, form, tracker)
	case StepLocation:
		p, err = locationStep(hospitalID, form.Value)
	case StepHours:
		p, err = hoursStep(hospitalID, form.Value)
	case StepTreatments:
		p, err = treatmentsStep(hospitalID, form.Value)
	case StepDoctors:
		p, err = s.doctorsStep(ctx, hospitalID, form, tracker)
	case StepFacilities:
		p, err = facilitiesStep(h, form.Value)
	}
	if err != nil {
		s.rollback(ctx, tracker, hospitalID, step)
		return nil, err
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := p.apply(ctx, tx); err != nil {
			return err
		}
		return hospital.NewRepositoryWithDB(tx).AdvanceWizardStep(ctx, hospitalID, step)
	})
	if err != nil {
		s.rollback(ctx, tracker, hospitalID, step)
		return nil, err
	}

	if len(p.stale) > 0 {
		if err := s.images.DeleteAll(context.WithoutCancel(ctx), p.stale); err != nil {
			s.logger.Warn("failed to delete replaced wizard images", "hospital_id", hospitalID, "step", step, "error", err)
		}
	}
	if s.drafts != nil {
		if err := s.drafts.Delete(ctx, hospitalID, step); err != nil {
			s.logger.Warn("failed to clear wizard draft", "hospital_id", hospitalID, "step", step, "error", err)
		}
	}
	s.audit.Record(ctx, audit.ActionWizardStep, "hospital", hospitalID, map[string]any{"step": step, "name": StepName(step), "details": p.details})
	s.logger.Info("wizard step submitted", "hospital_id", hospitalID, "step", step)

	return s.Progress(ctx, hospitalID)
}

func (s *Service) rollback(ctx context.Context, tracker *storage.Tracker, hospitalID string, step int) {
	if err := tracker.Rollback(ctx); err != nil {
		s.logger.Warn("failed to remove wizard uploads", "hospital_id", hospitalID, "step", step, "error", err)
	}
}

func (s *Service) basicInfo(ctx context.Context, h *hospital.Hospital, form *multipart.Form, tracker *storage.Tracker) (*plan, error) {
	values := form.Value
	u := hospital.ProfileUpdate{
		Name:        textField(values, "name"),
		Description: textField(values, "description"),
		Phone:       optionalField(values, "phone"),
		Email:       optionalField(values, "email"),
		WebsiteURL:  optionalField(values, "website_url"),
	}
	if u.Name == nil || *u.Name == "" {
		return nil, validation.New("name", "name is required")
	}
	if err := validation.ValidateStruct(u); err != nil {
		return nil, err
	}

	files := form.File["images"]
	if len(files) == 0 {
		files = form.File["images[]"]
	}
	if len(files) > hospital.MaxImages {
		return nil, fmt.Errorf("%w: at most %d images", hospital.ErrTooManyImages, hospital.MaxImages)
	}
	objects := make([]*storage.Object, 0, len(files))
	for _, fh := range files {
		obj, err := tracker.PutFile(ctx, h.ID, storage.KindHospital, fh)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}

	return &plan{
		details: map[string]int{"images": len(objects)},
		apply: func(ctx context.Context, tx pgx.Tx) error {
			repo := hospital.NewRepositoryWithDB(tx)
			if _, err := repo.UpdateProfile(ctx, h.ID, u); err != nil {
				return err
			}
			if len(objects) == 0 {
				return nil
			}
			count, err := repo.CountImages(ctx, h.ID)
			if err != nil {
				return err
			}
			if count+len(objects) > hospital.MaxImages {
				return fmt.Errorf("%w: %d of %d used", hospital.ErrTooManyImages, count, hospital.MaxImages)
			}
			for _, obj := range objects {
				if _, err := repo.AddImage(ctx, h.ID, obj.Key, obj.URL); err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}

func locationStep(hospitalID string, values map[string][]string) (*plan, error) {
	verr := &validation.Error{}
	u := hospital.ProfileUpdate{
		Address:       textField(values, "address"),
		AddressDetail: textField(values, "address_detail"),
		City:          textField(values, "city"),
		District:      textField(values, "district"),
		ZipCode:       textField(values, "zip_code"),
		Directions:    textField(values, "directions"),
		Timezone:      optionalField(values, "timezone"),
	}
	if u.Address == nil || *u.Address == "" {
		verr.Add("address", "address is required")
	}
	if u.City == nil || *u.City == "" {
		verr.Add("city", "city is required")
	}
	var err error
	if u.Latitude, err = floatField(values, "latitude"); err != nil {
		verr.Add("latitude", "latitude must be a number")
	}
	if u.Longitude, err = floatField(values, "longitude"); err != nil {
		verr.Add("longitude", "longitude must be a number")
	}
	if (u.Latitude == nil) != (u.Longitude == nil) {
		verr.Add("latitude", "latitude and longitude must be set together")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if err := validation.ValidateStruct(u); err != nil {
		return nil, err
	}
	return &plan{
		details: map[string]string{"city": *u.City},
		apply: func(ctx context.Context, tx pgx.Tx) error {
			_, err := hospital.NewRepositoryWithDB(tx).UpdateProfile(ctx, hospitalID, u)
			return err
		},
	}, nil
}

func hoursStep(hospitalID string, values map[string][]string) (*plan, error) {
	var hours []hospital.OpeningHours
	if err := jsonField(values, "hours", &hours); err != nil {
		return nil, err
	}
	if len(hours) == 0 {
		return nil, validation.New("hours", "hours are required")
	}
	if err := hospital.ValidateHours(hours); err != nil {
		return nil, err
	}
	normalized := hospital.NormalizeHours(hours)
	return &plan{
		details: map[string]int{"days": len(hours)},
		apply: func(ctx context.Context, tx pgx.Tx) error {
			return hospital.NewRepositoryWithDB(tx).ReplaceHours(ctx, hospitalID, normalized)
		},
	}, nil
}

func treatmentsStep(hospitalID string, values map[string][]string) (*plan, error) {
	var inputs []treatment.Input
	if err := jsonField(values, "treatments", &inputs); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, validation.New("treatments", "select at least one treatment")
	}
	inputs, err := treatment.ValidateSet(inputs)
	if err != nil {
		return nil, err
	}
	return &plan{
		details: map[string]int{"count": len(inputs)},
		apply: func(ctx context.Context, tx pgx.Tx) error {
			repo := treatment.NewRepositoryWithDB(tx)
			if err := treatment.CheckCatalog(ctx, repo, inputs); err != nil {
				return err
			}
			_, err := treatment.ReplaceSet(ctx, repo, hospitalID, inputs)
			return err
		},
	}, nil
}

func (s *Service) doctorsStep(ctx context.Context, hospitalID string, form *multipart.Form, tracker *storage.Tracker) (*plan, error) {
	var inputs []doctor.Input
	if err := jsonField(form.Value, "doctors", &inputs); err != nil {
		return nil, err
	}
	inputs, err := doctor.ValidateRoster(inputs)
	if err != nil {
		return nil, err
	}

	images := make(map[int]*storage.Object)
	for i := range inputs {
		files := form.File["doctor_image_"+strconv.Itoa(i)]
		if len(files) == 0 {
			continue
		}
		obj, err := tracker.PutFile(ctx, hospitalID, storage.KindDoctor, files[0])
		if err != nil {
			return nil, err
		}
		images[i] = obj
	}

	p := &plan{details: map[string]int{"count": len(inputs), "images": len(images)}}
	p.apply = func(ctx context.Context, tx pgx.Tx) error {
		stale, err := doctor.ReplaceRoster(ctx, doctor.NewRepositoryWithDB(tx), hospitalID, inputs, images)
		p.stale = stale
		return err
	}
	return p, nil
}

func facilitiesStep(h *hospital.Hospital, values map[string][]string) (*plan, error) {
	if h.WizardStep < StepDoctors {
		return nil, fmt.Errorf("%w: steps 1-%d must be completed before submitting", ErrStepLocked, StepDoctors)
	}
	codes := listField(values, "facilities")
	facilities, err := hospital.Facilities(codes)
	if err != nil {
		return nil, err
	}
	resolved := make([]string, 0, len(facilities))
	for _, f := range facilities {
		resolved = append(resolved, f.Code)
	}
	return &plan{
		details: map[string]any{"facilities": resolved},
		apply: func(ctx context.Context, tx pgx.Tx) error {
			repo := hospital.NewRepositoryWithDB(tx)
			if err := repo.ReplaceFacilities(ctx, h.ID, resolved); err != nil {
				return err
			}
			if h.Status == hospital.StatusPublished {
				return nil
			}
			return repo.SetStatus(ctx, h.ID, hospital.StatusSubmitted)
		},
	}, nil
}

// Draft returns the saved form state for step.
func (s *Service) Draft(ctx context.Context, hospitalID string, step int) (json.RawMessage, error) {
	if StepName(step) == "" {
		return nil, ErrUnknownStep
	}
	if s.drafts == nil {
		return nil, ErrDraftsDisabled
	}
	return s.drafts.Load(ctx, hospitalID, step)
}

func (s *Service) SaveDraft(ctx context.Context, hospitalID string, step int, data json.RawMessage) error {
	if StepName(step) == "" {
		return ErrUnknownStep
	}
	if s.drafts == nil {
		return ErrDraftsDisabled
	}
	return s.drafts.Save(ctx, hospitalID, step, data)
}

func (s *Service) DeleteDraft(ctx context.Context, hospitalID string, step int) error {
	if StepName(step) == "" {
		return ErrUnknownStep
	}
	if s.drafts == nil {
		return ErrDraftsDisabled
	}
	return s.drafts.Delete(ctx, hospitalID, step)
}

func firstValue(values map[string][]string, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return strings.TrimSpace(v[0]), true
}

// textField returns the trimmed value when the field was sent, even if empty.
func textField(values map[string][]string, key string) *string {
	v, ok := firstValue(values, key)
	if !ok {
		return nil
	}
	return &v
}

// optionalField is like textField but treats an empty value as absent.
func optionalField(values map[string][]string, key string) *string {
	v, ok := firstValue(values, key)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func floatField(values map[string][]string, key string) (*float64, error) {
	v, ok := firstValue(values, key)
	if !ok || v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func jsonField(values map[string][]string, key string, dst any) error {
	v, ok := firstValue(values, key)
	if !ok || v == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return validation.New(key, key+" must be valid JSON")
	}
	return nil
}

// listField accepts repeated values or one JSON array.
func listField(values map[string][]string, key string) []string {
	raw := values[key]
	if len(raw) == 0 {
		raw = values[key+"[]"]
	}
	if len(raw) == 1 && strings.HasPrefix(strings.TrimSpace(raw[0]), "[") {
		var items []string
		if err := json.Unmarshal([]byte(raw[0]), &items); err == nil {
			return items
		}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
