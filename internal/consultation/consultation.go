// Package consultation stores patient inquiries and lets the hospital admin
// work through them.
package consultation

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/clinic-admin/internal/validation"
)

var (
	ErrNotFound         = errors.New("consultation: not found")
	ErrHospitalNotFound = errors.New("consultation: hospital not found")
	ErrInvalidStatus    = errors.New("consultation: invalid status")
)

// Status tracks how far the hospital has followed up.
type Status string

const (
	StatusNew   Status = "New"
	StatusRetry Status = "Retry"
	StatusDone  Status = "Done"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusNew, StatusRetry, StatusDone}

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// Submission is one consultation request.
type Submission struct {
	ID               string    `json:"id"`
	HospitalID       string    `json:"hospital_id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	TreatmentIDs     []string  `json:"treatment_ids"`
	Message          string    `json:"message"`
	PreferredContact string    `json:"preferred_contact"`
	Status           Status    `json:"status"`
	RetryCount       int       `json:"retry_count"`
	AdminNote        string    `json:"admin_note"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Input is what a patient submits.
type Input struct {
	Name             string   `json:"name" validate:"required,max=50"`
	Phone            string   `json:"phone" validate:"omitempty,phone"`
	Email            string   `json:"email" validate:"omitempty,email"`
	TreatmentIDs     []string `json:"treatment_ids" validate:"max=20,dive,required,max=64"`
	Message          string   `json:"message" validate:"max=2000"`
	PreferredContact string   `json:"preferred_contact" validate:"omitempty,oneof=phone email chat"`
}

// Normalize trims fields and fills the preferred contact default.
func (in *Input) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.Message = strings.TrimSpace(in.Message)
	in.PreferredContact = strings.ToLower(strings.TrimSpace(in.PreferredContact))
	if in.PreferredContact == "" {
		if in.Phone == "" && in.Email != "" {
			in.PreferredContact = "email"
		} else {
			in.PreferredContact = "phone"
		}
	}
	ids := make([]string, 0, len(in.TreatmentIDs))
	seen := make(map[string]bool, len(in.TreatmentIDs))
	for _, id := range in.TreatmentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	in.TreatmentIDs = ids
}

// Validate checks a normalized input.
func Validate(in Input) error {
	if err := validation.ValidateStruct(in); err != nil {
		return err
	}
	verr := &validation.Error{}
	if in.Phone == "" && in.Email == "" {
		verr.Add("phone", "phone or email is required")
	}
	if in.PreferredContact == "email" && in.Email == "" {
		verr.Add("email", "email is required when the preferred contact is email")
	}
	if in.PreferredContact == "phone" && in.Phone == "" && in.Email != "" {
		verr.Add("phone", "phone is required when the preferred contact is phone")
	}
	return verr.OrNil()
}

// Update is an admin change to a submission. Nil fields are left alone.
type Update struct {
	Status    *string `json:"status"`
	AdminNote *string `json:"admin_note" validate:"omitempty,max=2000"`
}

// Filter narrows List.
type Filter struct {
	HospitalID string
	Statuses   []Status
	Search     string
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
	f.Search = strings.TrimSpace(f.Search)
}

// Page is one page of submissions.
type Page struct {
	Items    []Submission `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// Summary counts submissions per status.
type Summary struct {
	New   int `json:"new"`
	Retry int `json:"retry"`
	Done  int `json:"done"`
	Total int `json:"total"`
}
