package hospital

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/wolfman30/clinic-admin/internal/validation"
)

// DefaultTimezone applies when a listing has no valid timezone.
const DefaultTimezone = "Asia/Seoul"

// OpeningHours is the schedule for one weekday (0 = Sunday). A lunch break,
// when set, lies inside the open interval and counts as closed.
type OpeningHours struct {
	Weekday    int    `json:"weekday" validate:"min=0,max=6"`
	Open       string `json:"open,omitempty" validate:"omitempty,hhmm"`
	Close      string `json:"close,omitempty" validate:"omitempty,hhmm"`
	LunchStart string `json:"lunch_start,omitempty" validate:"omitempty,hhmm"`
	LunchEnd   string `json:"lunch_end,omitempty" validate:"omitempty,hhmm"`
	Closed     bool   `json:"closed"`
}

type hoursRequest struct {
	Hours []OpeningHours `json:"hours" validate:"max=7,dive"`
}

// ValidateHours checks a weekly schedule. Each weekday may appear once.
func ValidateHours(hours []OpeningHours) error {
	if err := validation.ValidateStruct(hoursRequest{Hours: hours}); err != nil {
		return err
	}
	verr := &validation.Error{}
	seen := make(map[int]bool, len(hours))
	for i, h := range hours {
		field := fmt.Sprintf("hours[%d]", i)
		if seen[h.Weekday] {
			verr.Add(field+".weekday", fmt.Sprintf("weekday %d appears more than once", h.Weekday))
			continue
		}
		seen[h.Weekday] = true

		if h.Closed {
			if h.Open != "" || h.Close != "" || h.LunchStart != "" || h.LunchEnd != "" {
				verr.Add(field, "closed days must not carry times")
			}
			continue
		}
		if h.Open == "" || h.Close == "" {
			verr.Add(field, "open and close are required unless the day is closed")
			continue
		}
		opens, closes := minutes(h.Open), minutes(h.Close)
		if opens >= closes {
			verr.Add(field+".close", "close must be after open")
			continue
		}
		if (h.LunchStart == "") != (h.LunchEnd == "") {
			verr.Add(field, "lunch_start and lunch_end must be set together")
			continue
		}
		if h.LunchStart != "" {
			ls, le := minutes(h.LunchStart), minutes(h.LunchEnd)
			if ls >= le || ls < opens || le > closes {
				verr.Add(field+".lunch_start", "lunch break must fall inside opening hours")
			}
		}
	}
	return verr.OrNil()
}

// NormalizeHours returns a 7-entry schedule ordered by weekday. Days not in
// hours are closed.
func NormalizeHours(hours []OpeningHours) []OpeningHours {
	byDay := make(map[int]OpeningHours, len(hours))
	for _, h := range hours {
		byDay[h.Weekday] = h
	}
	out := make([]OpeningHours, 0, 7)
	for day := 0; day < 7; day++ {
		h, ok := byDay[day]
		if !ok {
			h = OpeningHours{Weekday: day, Closed: true}
		}
		out = append(out, h)
	}
	return out
}

// Schedule answers open/closed questions for a listing.
type Schedule struct {
	Hours    []OpeningHours
	Location *time.Location
}

// NewSchedule resolves tz, falling back to DefaultTimezone.
func NewSchedule(hours []OpeningHours, tz string) Schedule {
	return Schedule{Hours: hours, Location: LoadLocation(tz)}
}

// LoadLocation returns the named zone or DefaultTimezone.
func LoadLocation(tz string) *time.Location {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Configured reports whether any day has opening times. Listings without
// hours take visits by appointment at any time.
func (s Schedule) Configured() bool {
	for _, h := range s.Hours {
		if !h.Closed && h.Open != "" && h.Close != "" {
			return true
		}
	}
	return false
}

// IsOpenAt reports whether t falls inside opening hours, outside lunch.
func (s Schedule) IsOpenAt(t time.Time) bool {
	if !s.Configured() {
		return true
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	day := s.day(int(local.Weekday()))
	if day == nil || day.Closed || day.Open == "" || day.Close == "" {
		return false
	}
	now := local.Hour()*60 + local.Minute()
	if now < minutes(day.Open) || now >= minutes(day.Close) {
		return false
	}
	if day.LunchStart != "" && day.LunchEnd != "" {
		if now >= minutes(day.LunchStart) && now < minutes(day.LunchEnd) {
			return false
		}
	}
	return true
}

func (s Schedule) day(weekday int) *OpeningHours {
	for i := range s.Hours {
		if s.Hours[i].Weekday == weekday {
			return &s.Hours[i]
		}
	}
	return nil
}

// minutes converts a validated HH:MM value to minutes after midnight.
func minutes(hhmm string) int {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return -1
	}
	return t.Hour()*60 + t.Minute()
}
