package events

import "time"

// Event types written to the outbox.
const (
	TypeConsultationCreated = "consultation.created"
	TypeReservationCreated  = "reservation.created"
)

// ConsultationCreatedV1 is enqueued when a patient submits a consultation
// request.
type ConsultationCreatedV1 struct {
	ConsultationID   string    `json:"consultation_id"`
	HospitalID       string    `json:"hospital_id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	TreatmentIDs     []string  `json:"treatment_ids,omitempty"`
	Message          string    `json:"message,omitempty"`
	PreferredContact string    `json:"preferred_contact"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReservationCreatedV1 is enqueued when a patient requests a visit slot.
type ReservationCreatedV1 struct {
	ReservationID string    `json:"reservation_id"`
	HospitalID    string    `json:"hospital_id"`
	PatientName   string    `json:"patient_name"`
	PatientPhone  string    `json:"patient_phone,omitempty"`
	PatientEmail  string    `json:"patient_email,omitempty"`
	TreatmentID   string    `json:"treatment_id,omitempty"`
	ReservedAt    time.Time `json:"reserved_at"`
	Memo          string    `json:"memo,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
