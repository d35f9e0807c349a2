// Package doctor manages the doctor roster shown on a hospital listing.
package doctor

import (
	"errors"
	"strings"
	"time"
)

// MaxPerHospital caps the roster size.
const MaxPerHospital = 50

var (
	ErrNotFound     = errors.New("doctor: not found")
	ErrLimitReached = errors.New("doctor: roster limit reached")
)

type Doctor struct {
	ID          string    `json:"id"`
	HospitalID  string    `json:"hospital_id"`
	Name        string    `json:"name"`
	Position    string    `json:"position"`
	Specialties []string  `json:"specialties"`
	Career      []string  `json:"career"`
	Education   []string  `json:"education"`
	ImageURL    string    `json:"image_url,omitempty"`
	ImageKey    string    `json:"-"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input is the editable part of a doctor profile. ID is only used by roster
// replacement, where it selects an existing doctor to keep.
type Input struct {
	ID          string   `json:"id,omitempty" validate:"omitempty,uuid"`
	Name        string   `json:"name" validate:"required,max=50"`
	Position    string   `json:"position" validate:"max=50"`
	Specialties []string `json:"specialties" validate:"max=20,dive,max=100"`
	Career      []string `json:"career" validate:"max=30,dive,max=200"`
	Education   []string `json:"education" validate:"max=20,dive,max=200"`
	SortOrder   int      `json:"sort_order" validate:"min=0"`
	RemoveImage bool     `json:"remove_image,omitempty"`
}

// Normalize trims text and drops blank list items.
func (in Input) Normalize() Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Position = strings.TrimSpace(in.Position)
	in.Specialties = compact(in.Specialties)
	in.Career = compact(in.Career)
	in.Education = compact(in.Education)
	return in
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
