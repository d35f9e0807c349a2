package hospital

import "time"

// Status is the publication state of a listing.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusPublished Status = "published"
)

// MaxImages is the number of gallery images a listing may carry.
const MaxImages = 10

// Hospital is the listing profile.
type Hospital struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email"`
	WebsiteURL    string    `json:"website_url"`
	Address       string    `json:"address"`
	AddressDetail string    `json:"address_detail"`
	City          string    `json:"city"`
	District      string    `json:"district"`
	ZipCode       string    `json:"zip_code"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	Directions    string    `json:"directions"`
	Timezone      string    `json:"timezone"`
	Status        Status    `json:"status"`
	WizardStep    int       `json:"wizard_step"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProfileUpdate is a partial update of the profile. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	Name          *string  `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description   *string  `json:"description,omitempty" validate:"omitempty,max=5000"`
	Phone         *string  `json:"phone,omitempty" validate:"omitempty,phone"`
	Email         *string  `json:"email,omitempty" validate:"omitempty,email"`
	WebsiteURL    *string  `json:"website_url,omitempty" validate:"omitempty,url"`
	Address       *string  `json:"address,omitempty" validate:"omitempty,max=200"`
	AddressDetail *string  `json:"address_detail,omitempty" validate:"omitempty,max=200"`
	City          *string  `json:"city,omitempty" validate:"omitempty,max=50"`
	District      *string  `json:"district,omitempty" validate:"omitempty,max=50"`
	ZipCode       *string  `json:"zip_code,omitempty" validate:"omitempty,max=10"`
	Latitude      *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude     *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Directions    *string  `json:"directions,omitempty" validate:"omitempty,max=1000"`
	Timezone      *string  `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Phone == nil && u.Email == nil &&
		u.WebsiteURL == nil && u.Address == nil && u.AddressDetail == nil && u.City == nil &&
		u.District == nil && u.ZipCode == nil && u.Latitude == nil && u.Longitude == nil &&
		u.Directions == nil && u.Timezone == nil
}

// Image is a gallery image.
type Image struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Key       string `json:"key"`
	SortOrder int    `json:"sort_order"`
}

// Facility is an amenity flag shown on the listing.
type Facility struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

var facilityCatalog = []Facility{
	{Code: "parking", Label: "Parking"},
	{Code: "wifi", Label: "Wi-Fi"},
	{Code: "elevator", Label: "Elevator"},
	{Code: "wheelchair", Label: "Wheelchair access"},
	{Code: "night_care", Label: "Night clinic"},
	{Code: "weekend_care", Label: "Weekend clinic"},
	{Code: "pharmacy", Label: "Pharmacy nearby"},
	{Code: "foreign_language", Label: "Foreign language support"},
	{Code: "female_doctor", Label: "Female doctor"},
}

// FacilityCatalog lists every facility an admin may select.
func FacilityCatalog() []Facility {
	return append([]Facility(nil), facilityCatalog...)
}

// Facilities resolves codes into catalog entries, rejecting unknown codes and
// dropping duplicates while keeping order.
func Facilities(codes []string) ([]Facility, error) {
	out := make([]Facility, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			continue
		}
		f, ok := lookupFacility(code)
		if !ok {
			return nil, ErrUnknownFacility
		}
		seen[code] = true
		out = append(out, f)
	}
	return out, nil
}

func lookupFacility(code string) (Facility, bool) {
	for _, f := range facilityCatalog {
		if f.Code == code {
			return f, true
		}
	}
	return Facility{}, false
}
