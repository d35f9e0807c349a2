package doctor

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// Service applies roster rules on top of the repository.
type Service struct {
	repo   *Repository
	images *storage.Store
	audit  *audit.Log
	logger *logging.Logger
}

func NewService(repo *Repository, images *storage.Store, auditLog *audit.Log, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, images: images, audit: auditLog, logger: logger}
}

func (s *Service) List(ctx context.Context, hospitalID string) ([]Doctor, error) {
	return s.repo.List(ctx, hospitalID)
}

func (s *Service) Get(ctx context.Context, hospitalID, id string) (*Doctor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, hospitalID, id)
}

// Validate normalizes in and checks its rules.
func Validate(in Input) (Input, error) {
	in = in.Normalize()
	if err := validation.ValidateStruct(in); err != nil {
		return in, err
	}
	return in, nil
}

func (s *Service) Create(ctx context.Context, hospitalID string, in Input, image *multipart.FileHeader) (*Doctor, error) {
	in, err := Validate(in)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.Count(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	if count >= MaxPerHospital {
		return nil, ErrLimitReached
	}

	tracker := s.images.Track()
	d := fromInput(hospitalID, in)
	if image != nil {
		obj, err := tracker.PutFile(ctx, hospitalID, storage.KindDoctor, image)
		if err != nil {
			return nil, err
		}
		d.ImageURL, d.ImageKey = obj.URL, obj.Key
	}

	created, err := s.repo.Create(ctx, d)
	if err != nil {
		if rbErr := tracker.Rollback(ctx); rbErr != nil {
			s.logger.Warn("failed to remove orphaned doctor image", "hospital_id", hospitalID, "error", rbErr)
		}
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionDoctorCreated, "doctor", created.ID, map[string]string{"name": created.Name})
	return created, nil
}

// Update replaces the profile. A new image replaces the old one; RemoveImage
// clears it.
func (s *Service) Update(ctx context.Context, hospitalID, id string, in Input, image *multipart.FileHeader) (*Doctor, error) {
	in, err := Validate(in)
	if err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}

	tracker := s.images.Track()
	d := fromInput(hospitalID, in)
	d.ID = existing.ID
	d.ImageURL, d.ImageKey = existing.ImageURL, existing.ImageKey
	if in.RemoveImage {
		d.ImageURL, d.ImageKey = "", ""
	}
	if image != nil {
		obj, err := tracker.PutFile(ctx, hospitalID, storage.KindDoctor, image)
		if err != nil {
			return nil, err
		}
		d.ImageURL, d.ImageKey = obj.URL, obj.Key
	}

	updated, err := s.repo.Update(ctx, d)
	if err != nil {
		if rbErr := tracker.Rollback(ctx); rbErr != nil {
			s.logger.Warn("failed to remove orphaned doctor image", "hospital_id", hospitalID, "error", rbErr)
		}
		return nil, err
	}
	if existing.ImageKey != "" && existing.ImageKey != updated.ImageKey {
		s.deleteObject(ctx, existing.ImageKey)
	}
	s.audit.Record(ctx, audit.ActionDoctorUpdated, "doctor", updated.ID, map[string]string{"name": updated.Name})
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, hospitalID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	deleted, err := s.repo.Delete(ctx, hospitalID, id)
	if err != nil {
		return err
	}
	s.deleteObject(ctx, deleted.ImageKey)
	s.audit.Record(ctx, audit.ActionDoctorDeleted, "doctor", deleted.ID, map[string]string{"name": deleted.Name})
	return nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to delete doctor image", "key", key, "error", err)
	}
}

// ValidateRoster checks a full roster submission.
func ValidateRoster(inputs []Input) ([]Input, error) {
	if len(inputs) > MaxPerHospital {
		return nil, validation.New("doctors", fmt.Sprintf("at most %d doctors are allowed", MaxPerHospital))
	}
	out := make([]Input, len(inputs))
	verr := &validation.Error{}
	for i, in := range inputs {
		normalized, err := Validate(in)
		if err != nil {
			verr.Add(fmt.Sprintf("doctors[%d]", i), err.Error())
			continue
		}
		out[i] = normalized
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceRoster makes the stored roster match inputs. Entries whose ID names
// an existing doctor update it; others are created; doctors not listed are
// removed. images maps an input index to a freshly uploaded photo. The
// returned keys belong to images that are no longer referenced and should be
// deleted once the transaction commits.
func ReplaceRoster(ctx context.Context, repo *Repository, hospitalID string, inputs []Input, images map[int]*storage.Object) ([]string, error) {
	existing, err := repo.List(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Doctor, len(existing))
	for _, d := range existing {
		byID[d.ID] = d
	}

	var stale []string
	kept := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		d := fromInput(hospitalID, in)
		if d.SortOrder == 0 {
			d.SortOrder = i
		}
		prev, ok := byID[in.ID]
		if ok && !in.RemoveImage {
			d.ImageURL, d.ImageKey = prev.ImageURL, prev.ImageKey
		}
		if obj := images[i]; obj != nil {
			d.ImageURL, d.ImageKey = obj.URL, obj.Key
		}
		if ok {
			d.ID = prev.ID
			kept[prev.ID] = true
			if _, err := repo.Update(ctx, d); err != nil {
				return nil, err
			}
			if prev.ImageKey != "" && prev.ImageKey != d.ImageKey {
				stale = append(stale, prev.ImageKey)
			}
			continue
		}
		if _, err := repo.Create(ctx, d); err != nil {
			return nil, err
		}
	}

	for _, d := range existing {
		if kept[d.ID] {
			continue
		}
		if _, err := repo.Delete(ctx, hospitalID, d.ID); err != nil {
			return nil, err
		}
		if d.ImageKey != "" {
			stale = append(stale, d.ImageKey)
		}
	}
	return stale, nil
}

func fromInput(hospitalID string, in Input) *Doctor {
	return &Doctor{
		HospitalID:  hospitalID,
		Name:        in.Name,
		Position:    in.Position,
		Specialties: nonNil(in.Specialties),
		Career:      nonNil(in.Career),
		Education:   nonNil(in.Education),
		SortOrder:   in.SortOrder,
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
