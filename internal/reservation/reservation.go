// Package reservation handles visit requests from patients and their
// confirmation by the hospital.
package reservation

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/clinic-admin/internal/validation"
)

var (
	ErrNotFound          = errors.New("reservation: not found")
	ErrHospitalNotFound  = errors.New("reservation: hospital not found")
	ErrInvalidTransition = errors.New("reservation: invalid status transition")
	ErrOutsideHours      = errors.New("reservation: requested time is outside opening hours")
	ErrInPast            = errors.New("reservation: requested time is in the past")
	ErrUnknownTreatment  = errors.New("reservation: treatment not offered by this hospital")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from may move to to. Cancelled and completed
// are final.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus accepts a known status in any casing.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, true
	}
	return "", false
}

type Reservation struct {
	ID           string    `json:"id"`
	HospitalID   string    `json:"hospital_id"`
	TreatmentID  string    `json:"treatment_id,omitempty"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	PatientEmail string    `json:"patient_email"`
	ReservedAt   time.Time `json:"reserved_at"`
	Memo         string    `json:"memo"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Input is a patient's reservation request.
type Input struct {
	TreatmentID  string    `json:"treatment_id" validate:"omitempty,max=64"`
	PatientName  string    `json:"patient_name" validate:"required,max=50"`
	PatientPhone string    `json:"patient_phone" validate:"required,phone"`
	PatientEmail string    `json:"patient_email" validate:"omitempty,email"`
	ReservedAt   time.Time `json:"reserved_at" validate:"required"`
	Memo         string    `json:"memo" validate:"max=1000"`
}

func (in *Input) Normalize() {
	in.TreatmentID = strings.TrimSpace(in.TreatmentID)
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.PatientPhone = strings.TrimSpace(in.PatientPhone)
	in.PatientEmail = strings.TrimSpace(in.PatientEmail)
	in.Memo = strings.TrimSpace(in.Memo)
	in.ReservedAt = in.ReservedAt.Truncate(time.Minute)
}

func Validate(in Input) error {
	return validation.ValidateStruct(in)
}

// Filter narrows List. From/To bound reserved_at (To exclusive).
type Filter struct {
	HospitalID string
	Statuses   []Status
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxPage         = 10000
)

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > maxPage {
		f.Page = maxPage
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
}

type Page struct {
	Items    []Reservation `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}
