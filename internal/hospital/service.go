package hospital

import (
	"context"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/doctor"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/treatment"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// DoctorLister supplies the roster for the listing view.
type DoctorLister interface {
	List(ctx context.Context, hospitalID string) ([]doctor.Doctor, error)
}

// TreatmentLister supplies priced treatments for the listing view.
type TreatmentLister interface {
	List(ctx context.Context, hospitalID string) ([]treatment.HospitalTreatment, error)
}

// Listing is everything shown for one hospital.
type Listing struct {
	Hospital   *Hospital                     `json:"hospital"`
	Hours      []OpeningHours                `json:"hours"`
	Facilities []Facility                    `json:"facilities"`
	Images     []Image                       `json:"images"`
	Treatments []treatment.HospitalTreatment `json:"treatments"`
	Doctors    []doctor.Doctor               `json:"doctors"`
}

// PublicListing adds the live open/closed flag for patients.
type PublicListing struct {
	Listing
	OpenNow bool `json:"open_now"`
}

type Service struct {
	repo       *Repository
	images     *storage.Store
	doctors    DoctorLister
	treatments TreatmentLister
	audit      *audit.Log
	logger     *logging.Logger
}

func NewService(repo *Repository, images *storage.Store, doctors DoctorLister, treatments TreatmentLister, auditLog *audit.Log, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:       repo,
		images:     images,
		doctors:    doctors,
		treatments: treatments,
		audit:      auditLog,
		logger:     logger,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Hospital, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Listing assembles the admin view of the hospital.
func (s *Service) Listing(ctx context.Context, id string) (*Listing, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	hours, err := s.repo.GetHours(ctx, id)
	if err != nil {
		return nil, err
	}
	codes, err := s.repo.ListFacilityCodes(ctx, id)
	if err != nil {
		return nil, err
	}
	facilities := make([]Facility, 0, len(codes))
	for _, code := range codes {
		if f, ok := lookupFacility(code); ok {
			facilities = append(facilities, f)
		}
	}
	images, err := s.repo.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}

	listing := &Listing{
		Hospital:   h,
		Hours:      NormalizeHours(hours),
		Facilities: facilities,
		Images:     images,
		Treatments: []treatment.HospitalTreatment{},
		Doctors:    []doctor.Doctor{},
	}
	if s.treatments != nil {
		if listing.Treatments, err = s.treatments.List(ctx, id); err != nil {
			return nil, err
		}
	}
	if s.doctors != nil {
		if listing.Doctors, err = s.doctors.List(ctx, id); err != nil {
			return nil, err
		}
	}
	return listing, nil
}

// PublicListing returns a published listing; anything else is not found.
func (s *Service) PublicListing(ctx context.Context, id string, now time.Time) (*PublicListing, error) {
	listing, err := s.Listing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Hospital.Status != StatusPublished {
		return nil, ErrNotFound
	}
	schedule := NewSchedule(listing.Hours, listing.Hospital.Timezone)
	return &PublicListing{Listing: *listing, OpenNow: schedule.IsOpenAt(now)}, nil
}

// Schedule loads the opening hours of a hospital for booking checks.
func (s *Service) Schedule(ctx context.Context, id string) (*Hospital, Schedule, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, Schedule{}, err
	}
	hours, err := s.repo.GetHours(ctx, id)
	if err != nil {
		return nil, Schedule{}, err
	}
	return h, NewSchedule(hours, h.Timezone), nil
}

func (s *Service) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*Hospital, error) {
	if err := validation.ValidateStruct(u); err != nil {
		return nil, err
	}
	h, err := s.repo.UpdateProfile(ctx, id, u)
	if err != nil {
		return nil, err
	}
	if !u.Empty() {
		s.audit.Record(ctx, audit.ActionProfileUpdated, "hospital", id, u)
	}
	return h, nil
}

func (s *Service) ReplaceHours(ctx context.Context, id string, hours []OpeningHours) ([]OpeningHours, error) {
	if err := ValidateHours(hours); err != nil {
		return nil, err
	}
	normalized := NormalizeHours(hours)
	err := s.repo.InTx(ctx, func(tx *Repository) error {
		return tx.ReplaceHours(ctx, id, normalized)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionHoursReplaced, "hospital", id, normalized)
	return normalized, nil
}

func (s *Service) ReplaceFacilities(ctx context.Context, id string, codes []string) ([]Facility, error) {
	facilities, err := Facilities(codes)
	if err != nil {
		return nil, err
	}
	resolved := make([]string, 0, len(facilities))
	for _, f := range facilities {
		resolved = append(resolved, f.Code)
	}
	err = s.repo.InTx(ctx, func(tx *Repository) error {
		return tx.ReplaceFacilities(ctx, id, resolved)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionFacilitiesReplaced, "hospital", id, resolved)
	return facilities, nil
}

// AddImages uploads files and appends them to the gallery. Either every
// file is stored and recorded or none is.
func (s *Service) AddImages(ctx context.Context, id string, files []*multipart.FileHeader) ([]Image, error) {
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	count, err := s.repo.CountImages(ctx, id)
	if err != nil {
		return nil, err
	}
	if count+len(files) > MaxImages {
		return nil, fmt.Errorf("%w: %d of %d used", ErrTooManyImages, count, MaxImages)
	}

	tracker := s.images.Track()
	objects := make([]*storage.Object, 0, len(files))
	for _, fh := range files {
		obj, err := tracker.PutFile(ctx, id, storage.KindHospital, fh)
		if err != nil {
			s.rollback(ctx, tracker, id)
			return nil, err
		}
		objects = append(objects, obj)
	}

	added := make([]Image, 0, len(objects))
	err = s.repo.InTx(ctx, func(tx *Repository) error {
		for _, obj := range objects {
			img, err := tx.AddImage(ctx, id, obj.Key, obj.URL)
			if err != nil {
				return err
			}
			added = append(added, *img)
		}
		return nil
	})
	if err != nil {
		s.rollback(ctx, tracker, id)
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionImagesAdded, "hospital", id, map[string]int{"count": len(added)})
	return added, nil
}

func (s *Service) DeleteImage(ctx context.Context, id, imageID string) error {
	if _, err := uuid.Parse(imageID); err != nil {
		return ErrImageNotFound
	}
	img, err := s.repo.DeleteImage(ctx, id, imageID)
	if err != nil {
		return err
	}
	if err := s.images.Delete(context.WithoutCancel(ctx), img.Key); err != nil {
		s.logger.Warn("failed to delete hospital image object", "hospital_id", id, "key", img.Key, "error", err)
	}
	s.audit.Record(ctx, audit.ActionImageDeleted, "image", imageID, nil)
	return nil
}

func (s *Service) rollback(ctx context.Context, tracker *storage.Tracker, id string) {
	if err := tracker.Rollback(ctx); err != nil {
		s.logger.Warn("failed to remove uploaded images", "hospital_id", id, "error", err)
	}
}
