// Package treatment holds the global treatment catalog and each hospital's
// priced selection from it.
package treatment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-admin/internal/validation"
)

// MaxPerHospital caps how many treatments one listing may price.
const MaxPerHospital = 200

var (
	ErrNotFound         = errors.New("treatment: not found")
	ErrUnknownTreatment = errors.New("treatment: unknown catalog id")
)

type Treatment struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
}

type Category struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Treatments []Treatment `json:"treatments"`
}

// HospitalTreatment is a catalog treatment offered by one hospital.
type HospitalTreatment struct {
	ID            string `json:"id"`
	HospitalID    string `json:"hospital_id"`
	TreatmentID   string `json:"treatment_id"`
	TreatmentName string `json:"treatment_name"`
	CategoryID    string `json:"category_id"`
	PriceMin      *int   `json:"price_min,omitempty"`
	PriceMax      *int   `json:"price_max,omitempty"`
	PriceText     string `json:"price_text,omitempty"`
	Description   string `json:"description,omitempty"`
	Featured      bool   `json:"featured"`
}

// Input prices one catalog treatment. Either both bounds are given with
// 0 <= min <= max, or neither is and PriceText explains the price
// (for example "consultation required").
type Input struct {
	TreatmentID string `json:"treatment_id" validate:"required,max=64"`
	PriceMin    *int   `json:"price_min,omitempty" validate:"omitempty,min=0"`
	PriceMax    *int   `json:"price_max,omitempty" validate:"omitempty,min=0"`
	PriceText   string `json:"price_text,omitempty" validate:"max=100"`
	Description string `json:"description,omitempty" validate:"max=1000"`
	Featured    bool   `json:"featured"`
}

// ValidateInput checks one pricing entry. field prefixes error paths.
func ValidateInput(in Input, field string) (Input, error) {
	in.TreatmentID = strings.TrimSpace(in.TreatmentID)
	in.PriceText = strings.TrimSpace(in.PriceText)
	if err := validation.ValidateStruct(in); err != nil {
		return in, err
	}
	verr := &validation.Error{}
	switch {
	case in.PriceMin == nil && in.PriceMax == nil:
		if in.PriceText == "" {
			verr.Add(field+"price_text", "price_text is required when no price range is given")
		}
	case in.PriceMin == nil || in.PriceMax == nil:
		verr.Add(field+"price_min", "price_min and price_max must be set together")
	case *in.PriceMin > *in.PriceMax:
		verr.Add(field+"price_max", "price_max must not be less than price_min")
	}
	return in, verr.OrNil()
}

// ValidateSet checks a full selection; treatment ids must be unique.
func ValidateSet(inputs []Input) ([]Input, error) {
	if len(inputs) > MaxPerHospital {
		return nil, validation.New("treatments", fmt.Sprintf("at most %d treatments are allowed", MaxPerHospital))
	}
	out := make([]Input, len(inputs))
	seen := make(map[string]bool, len(inputs))
	verr := &validation.Error{}
	for i, in := range inputs {
		prefix := fmt.Sprintf("treatments[%d].", i)
		normalized, err := ValidateInput(in, prefix)
		if err != nil {
			var ve *validation.Error
			if errors.As(err, &ve) {
				for _, f := range ve.Fields {
					if !strings.HasPrefix(f.Field, prefix) {
						f.Field = prefix + f.Field
					}
					verr.Fields = append(verr.Fields, f)
				}
				continue
			}
			return nil, err
		}
		if seen[normalized.TreatmentID] {
			verr.Add(prefix+"treatment_id", fmt.Sprintf("treatment %s is listed more than once", normalized.TreatmentID))
			continue
		}
		seen[normalized.TreatmentID] = true
		out[i] = normalized
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
