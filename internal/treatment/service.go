package treatment

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

type Service struct {
	repo   *Repository
	audit  *audit.Log
	logger *logging.Logger
}

func NewService(repo *Repository, auditLog *audit.Log, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, audit: auditLog, logger: logger}
}

func (s *Service) Catalog(ctx context.Context) ([]Category, error) {
	return s.repo.Catalog(ctx)
}

func (s *Service) List(ctx context.Context, hospitalID string) ([]HospitalTreatment, error) {
	return s.repo.List(ctx, hospitalID)
}

// CheckCatalog fails with ErrUnknownTreatment when any input names a
// treatment outside the catalog.
func CheckCatalog(ctx context.Context, repo *Repository, inputs []Input) error {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.TreatmentID)
	}
	unknown, err := repo.UnknownIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTreatment, strings.Join(unknown, ", "))
	}
	return nil
}

// Replace swaps the whole selection in one transaction.
func (s *Service) Replace(ctx context.Context, hospitalID string, inputs []Input) ([]HospitalTreatment, error) {
	inputs, err := ValidateSet(inputs)
	if err != nil {
		return nil, err
	}
	var out []HospitalTreatment
	err = s.repo.InTx(ctx, func(tx *Repository) error {
		if err := CheckCatalog(ctx, tx, inputs); err != nil {
			return err
		}
		out, err = ReplaceSet(ctx, tx, hospitalID, inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionTreatmentsReplaced, "treatment", "", map[string]int{"count": len(out)})
	return out, nil
}

// Upsert prices one treatment. treatmentID from the path wins over the body.
func (s *Service) Upsert(ctx context.Context, hospitalID, treatmentID string, in Input) (*HospitalTreatment, error) {
	in.TreatmentID = treatmentID
	in, err := ValidateInput(in, "")
	if err != nil {
		return nil, err
	}
	if err := CheckCatalog(ctx, s.repo, []Input{in}); err != nil {
		return nil, err
	}
	ht, err := s.repo.Upsert(ctx, hospitalID, in)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionTreatmentUpdated, "treatment", treatmentID, in)
	return ht, nil
}

func (s *Service) Remove(ctx context.Context, hospitalID, treatmentID string) error {
	if err := s.repo.Delete(ctx, hospitalID, treatmentID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.ActionTreatmentRemoved, "treatment", treatmentID, nil)
	return nil
}
