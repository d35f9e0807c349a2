// Package notify emails hospital contacts when patients reach out. It is the
// delivery side of the transactional outbox.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/clinic-admin/internal/events"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// HospitalStore resolves the contact for a hospital.
type HospitalStore interface {
	Get(ctx context.Context, id string) (*hospital.Hospital, error)
}

// Service turns outbox events into emails. It implements
// events.DeliveryHandler; a returned error leaves the row pending.
type Service struct {
	email     EmailSender
	hospitals HospitalStore
	adminURL  string
	logger    *logging.Logger
}

// NewService creates a notification service. adminURL is linked from the
// email body when set.
func NewService(email EmailSender, hospitals HospitalStore, adminURL string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:     email,
		hospitals: hospitals,
		adminURL:  strings.TrimRight(adminURL, "/"),
		logger:    logger,
	}
}

var _ events.DeliveryHandler = (*Service)(nil)

// Handle dispatches one outbox entry. Unknown event types are acknowledged.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case events.TypeConsultationCreated:
		var evt events.ConsultationCreatedV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
		}
		return s.NotifyConsultation(ctx, evt)
	case events.TypeReservationCreated:
		var evt events.ReservationCreatedV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
		}
		return s.NotifyReservation(ctx, evt)
	default:
		s.logger.Debug("notify: ignoring outbox event", "type", entry.Type, "event_id", entry.ID)
		return nil
	}
}

// recipient returns the hospital and whether it has a contact address.
func (s *Service) recipient(ctx context.Context, hospitalID string) (*hospital.Hospital, bool, error) {
	if s.email == nil || s.hospitals == nil {
		return nil, false, nil
	}
	h, err := s.hospitals.Get(ctx, hospitalID)
	if errors.Is(err, hospital.ErrNotFound) {
		s.logger.Warn("notify: hospital not found, dropping notification", "hospital_id", hospitalID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("notify: load hospital: %w", err)
	}
	if strings.TrimSpace(h.Email) == "" {
		s.logger.Debug("notify: hospital has no contact email", "hospital_id", hospitalID)
		return h, false, nil
	}
	return h, true, nil
}

// NotifyConsultation emails the hospital about a new consultation request.
func (s *Service) NotifyConsultation(ctx context.Context, evt events.ConsultationCreatedV1) error {
	h, ok, err := s.recipient(ctx, evt.HospitalID)
	if err != nil || !ok {
		return err
	}
	loc := hospital.LoadLocation(h.Timezone)

	rows := []row{
		{"Name", evt.Name},
		{"Phone", evt.Phone},
		{"Email", evt.Email},
		{"Preferred contact", evt.PreferredContact},
		{"Treatments", strings.Join(evt.TreatmentIDs, ", ")},
		{"Received", evt.CreatedAt.In(loc).Format("2006-01-02 15:04")},
		{"Message", evt.Message},
	}
	msg := EmailMessage{
		To:      h.Email,
		ToName:  h.Name,
		Subject: fmt.Sprintf("New consultation request from %s", evt.Name),
		Body:    s.textBody(fmt.Sprintf("%s sent a consultation request.", evt.Name), rows, "/consultations/"+evt.ConsultationID),
		HTML:    s.htmlBody("New consultation request", rows, "/consultations/"+evt.ConsultationID),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("notify: consultation email sent", "hospital_id", h.ID, "consultation_id", evt.ConsultationID)
	return nil
}

// NotifyReservation emails the hospital about a new reservation request.
func (s *Service) NotifyReservation(ctx context.Context, evt events.ReservationCreatedV1) error {
	h, ok, err := s.recipient(ctx, evt.HospitalID)
	if err != nil || !ok {
		return err
	}
	loc := hospital.LoadLocation(h.Timezone)
	when := evt.ReservedAt.In(loc).Format("Mon, 2006-01-02 15:04")

	rows := []row{
		{"Patient", evt.PatientName},
		{"Phone", evt.PatientPhone},
		{"Email", evt.PatientEmail},
		{"Requested time", when},
		{"Treatment", evt.TreatmentID},
		{"Memo", evt.Memo},
	}
	msg := EmailMessage{
		To:      h.Email,
		ToName:  h.Name,
		Subject: fmt.Sprintf("Reservation request for %s", when),
		Body:    s.textBody(fmt.Sprintf("%s requested a visit. Confirm or cancel it in the admin.", evt.PatientName), rows, "/reservations/"+evt.ReservationID),
		HTML:    s.htmlBody("New reservation request", rows, "/reservations/"+evt.ReservationID),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("notify: reservation email sent", "hospital_id", h.ID, "reservation_id", evt.ReservationID)
	return nil
}

type row struct {
	label string
	value string
}

func (s *Service) link(path string) string {
	if s.adminURL == "" {
		return ""
	}
	return s.adminURL + path
}

func (s *Service) textBody(intro string, rows []row, path string) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", r.label, r.value)
	}
	if link := s.link(path); link != "" {
		fmt.Fprintf(&b, "\nOpen in admin: %s\n", link)
	}
	return b.String()
}

// htmlBody escapes every patient-supplied value.
func (s *Service) htmlBody(title string, rows []row, path string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, `<h2 style="color: #2563eb;">%s</h2>`, html.EscapeString(title))
	b.WriteString(`<table style="border-collapse: collapse; margin: 20px 0;">`)
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		fmt.Fprintf(&b, `<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			html.EscapeString(r.label), strings.ReplaceAll(html.EscapeString(r.value), "\n", "<br>"))
	}
	b.WriteString(`</table>`)
	if link := s.link(path); link != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Open in admin</a></p>`, html.EscapeString(link))
	}
	b.WriteString(`</div>`)
	return b.String()
}
