// Package wizard runs the multi-step listing registration flow. Each step is
// persisted on its own so a failure never undoes earlier steps.
package wizard

import (
	"errors"

	"github.com/wolfman30/clinic-admin/internal/hospital"
)

// Step numbers in submission order.
const (
	StepBasicInfo = iota + 1
	StepLocation
	StepHours
	StepTreatments
	StepDoctors
	StepFacilities

	StepCount = StepFacilities
)

var stepNames = map[int]string{
	StepBasicInfo:  "basic_info",
	StepLocation:   "location",
	StepHours:      "opening_hours",
	StepTreatments: "treatments",
	StepDoctors:    "doctors",
	StepFacilities: "facilities",
}

// StepName returns the stable name of step, or "" when out of range.
func StepName(step int) string { return stepNames[step] }

var (
	ErrUnknownStep = errors.New("wizard: unknown step")
	ErrStepLocked  = errors.New("wizard: previous steps are not complete")
)

// StepState is one row of the progress view.
type StepState struct {
	Step      int    `json:"step"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// Progress summarises how far a hospital got.
type Progress struct {
	HospitalID string          `json:"hospital_id"`
	Status     hospital.Status `json:"status"`
	Current    int             `json:"current_step"`
	NextStep   int             `json:"next_step"`
	Percent    int             `json:"percent"`
	Steps      []StepState     `json:"steps"`
}

// ProgressOf derives the progress view from the stored wizard step.
func ProgressOf(h *hospital.Hospital) *Progress {
	current := h.WizardStep
	if current < 0 {
		current = 0
	}
	if current > StepCount {
		current = StepCount
	}
	p := &Progress{
		HospitalID: h.ID,
		Status:     h.Status,
		Current:    current,
		Percent:    current * 100 / StepCount,
		Steps:      make([]StepState, 0, StepCount),
	}
	if current < StepCount {
		p.NextStep = current + 1
	}
	for step := 1; step <= StepCount; step++ {
		p.Steps = append(p.Steps, StepState{Step: step, Name: StepName(step), Completed: step <= current})
	}
	return p
}
