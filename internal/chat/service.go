// Package chat connects hospital admins and patients through Sendbird group
// channels.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-admin/internal/chat/sendbird"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

var (
	ErrNotConfigured    = errors.New("chat: not configured")
	ErrChannelNotFound  = errors.New("chat: channel not found")
	ErrHospitalNotFound = errors.New("chat: hospital not found")
	ErrInvalidSignature = errors.New("chat: invalid webhook signature")
	ErrEmptyMessage     = errors.New("chat: message is empty")
	ErrMessageTooLong   = errors.New("chat: message is too long")
	ErrInvalidPayload   = errors.New("chat: invalid webhook payload")
)

const (
	hospitalUserPrefix = "hospital_"
	patientUserPrefix  = "patient_"
	channelCustomType  = "consultation"
	sessionTokenTTL    = 24 * time.Hour
	maxMessageLength   = 5000
	webhookSource      = "sendbird"
)

// HospitalUserID is the Sendbird user that speaks for a hospital.
func HospitalUserID(hospitalID string) string { return hospitalUserPrefix + hospitalID }

// PatientUserID is the Sendbird user of a patient.
func PatientUserID(patientID string) string { return patientUserPrefix + patientID }

// Platform is the subset of the Sendbird client the service needs.
type Platform interface {
	EnsureUser(ctx context.Context, userID, nickname string) (*sendbird.User, error)
	IssueSessionToken(ctx context.Context, userID string, expiresAt time.Time) (*sendbird.SessionToken, error)
	ListMyGroupChannels(ctx context.Context, userID string, opts sendbird.ListChannelsOptions) (*sendbird.ChannelList, error)
	CreateChannel(ctx context.Context, req sendbird.CreateChannelRequest) (*sendbird.Channel, error)
	GetChannel(ctx context.Context, channelURL string) (*sendbird.Channel, error)
	ListMessages(ctx context.Context, channelURL string, opts sendbird.ListMessagesOptions) ([]sendbird.Message, error)
	SendMessage(ctx context.Context, channelURL, userID, text string) (*sendbird.Message, error)
	MarkAsRead(ctx context.Context, channelURL, userID string) error
}

// HospitalLookup resolves hospital names for nicknames.
type HospitalLookup interface {
	Get(ctx context.Context, id string) (*hospital.Hospital, error)
}

// Deduper records webhook deliveries.
type Deduper interface {
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

// Session is what the browser SDK needs to connect.
type Session struct {
	AppID     string    `json:"app_id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"session_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PatientChannel is returned to a patient opening a chat.
type PatientChannel struct {
	ChannelURL string  `json:"channel_url"`
	PatientID  string  `json:"patient_id"`
	Session    Session `json:"session"`
}

type Service struct {
	platform  Platform
	hospitals HospitalLookup
	hub       *Hub
	dedupe    Deduper
	appID     string
	apiToken  string
	logger    *logging.Logger
	now       func() time.Time
}

// Config carries Sendbird credentials for session handoff and webhook checks.
type Config struct {
	AppID    string
	APIToken string
}

func NewService(platform Platform, hospitals HospitalLookup, hub *Hub, dedupe Deduper, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		platform:  platform,
		hospitals: hospitals,
		hub:       hub,
		dedupe:    dedupe,
		appID:     cfg.AppID,
		apiToken:  cfg.APIToken,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) enabled() bool { return s != nil && s.platform != nil }

// StartSession ensures the hospital's Sendbird user and issues a token.
func (s *Service) StartSession(ctx context.Context, hospitalID string) (*Session, error) {
	if !s.enabled() {
		return nil, ErrNotConfigured
	}
	h, err := s.hospitals.Get(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	userID := HospitalUserID(hospitalID)
	if _, err := s.platform.EnsureUser(ctx, userID, h.Name); err != nil {
		return nil, fmt.Errorf("chat: ensure hospital user: %w", err)
	}
	return s.issue(ctx, userID)
}

func (s *Service) issue(ctx context.Context, userID string) (*Session, error) {
	expires := s.now().Add(sessionTokenTTL)
	tok, err := s.platform.IssueSessionToken(ctx, userID, expires)
	if err != nil {
		return nil, fmt.Errorf("chat: issue session token: %w", err)
	}
	if tok.ExpiresAt > 0 {
		expires = time.UnixMilli(tok.ExpiresAt)
	}
	return &Session{AppID: s.appID, UserID: userID, Token: tok.Token, ExpiresAt: expires.UTC()}, nil
}

// ListChannels returns the hospital's channels, latest message first.
func (s *Service) ListChannels(ctx context.Context, hospitalID, token string, limit int) (*sendbird.ChannelList, error) {
	if !s.enabled() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.platform.ListMyGroupChannels(ctx, HospitalUserID(hospitalID), sendbird.ListChannelsOptions{Token: token, Limit: limit})
	if sendbird.IsUserNotFound(err) {
		return &sendbird.ChannelList{Channels: []sendbird.Channel{}}, nil
	}
	return list, err
}

// authorize loads the channel and checks that the hospital is a member.
func (s *Service) authorize(ctx context.Context, hospitalID, channelURL string) error {
	if !s.enabled() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(channelURL) == "" {
		return ErrChannelNotFound
	}
	ch, err := s.platform.GetChannel(ctx, channelURL)
	var apiErr *sendbird.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 404 || apiErr.StatusCode == 400) {
		return ErrChannelNotFound
	}
	if err != nil {
		return fmt.Errorf("chat: load channel: %w", err)
	}
	if !ch.HasMember(HospitalUserID(hospitalID)) {
		return ErrChannelNotFound
	}
	return nil
}

func (s *Service) Messages(ctx context.Context, hospitalID, channelURL string, before int64, limit int) ([]sendbird.Message, error) {
	if err := s.authorize(ctx, hospitalID, channelURL); err != nil {
		return nil, err
	}
	return s.platform.ListMessages(ctx, channelURL, sendbird.ListMessagesOptions{Before: before, Limit: limit})
}

func (s *Service) Send(ctx context.Context, hospitalID, channelURL, text string) (*sendbird.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, ErrMessageTooLong
	}
	if err := s.authorize(ctx, hospitalID, channelURL); err != nil {
		return nil, err
	}
	return s.platform.SendMessage(ctx, channelURL, HospitalUserID(hospitalID), text)
}

func (s *Service) MarkRead(ctx context.Context, hospitalID, channelURL string) error {
	if err := s.authorize(ctx, hospitalID, channelURL); err != nil {
		return err
	}
	return s.platform.MarkAsRead(ctx, channelURL, HospitalUserID(hospitalID))
}

// OpenPatientChannel creates or reuses the distinct channel between a patient
// and a published hospital. A new patient id is minted when none is given.
func (s *Service) OpenPatientChannel(ctx context.Context, hospitalID, patientID, nickname string) (*PatientChannel, error) {
	if !s.enabled() {
		return nil, ErrNotConfigured
	}
	h, err := s.hospitals.Get(ctx, hospitalID)
	if errors.Is(err, hospital.ErrNotFound) {
		return nil, ErrHospitalNotFound
	}
	if err != nil {
		return nil, err
	}
	if h.Status != hospital.StatusPublished {
		return nil, ErrHospitalNotFound
	}

	patientID = strings.TrimSpace(patientID)
	if _, err := uuid.Parse(patientID); err != nil {
		patientID = uuid.NewString()
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		nickname = "Guest"
	}

	hospitalUser := HospitalUserID(hospitalID)
	patientUser := PatientUserID(patientID)
	if _, err := s.platform.EnsureUser(ctx, hospitalUser, h.Name); err != nil {
		return nil, fmt.Errorf("chat: ensure hospital user: %w", err)
	}
	if _, err := s.platform.EnsureUser(ctx, patientUser, nickname); err != nil {
		return nil, fmt.Errorf("chat: ensure patient user: %w", err)
	}
	data, _ := json.Marshal(map[string]string{"hospital_id": hospitalID, "patient_id": patientID})
	ch, err := s.platform.CreateChannel(ctx, sendbird.CreateChannelRequest{
		UserIDs:    []string{hospitalUser, patientUser},
		Name:       nickname,
		CustomType: channelCustomType,
		Data:       string(data),
		IsDistinct: true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: create channel: %w", err)
	}
	session, err := s.issue(ctx, patientUser)
	if err != nil {
		return nil, err
	}
	return &PatientChannel{ChannelURL: ch.ChannelURL, PatientID: patientID, Session: *session}, nil
}

// HandleWebhook verifies and applies one Sendbird webhook delivery.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !sendbird.VerifySignature(s.apiToken, body, signature) {
		return ErrInvalidSignature
	}
	var evt sendbird.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if evt.Category != "group_channel:message_send" {
		return nil
	}

	hospitalID := ""
	for _, m := range evt.Members {
		if strings.HasPrefix(m.UserID, hospitalUserPrefix) {
			hospitalID = strings.TrimPrefix(m.UserID, hospitalUserPrefix)
			break
		}
	}
	if hospitalID == "" {
		s.logger.Debug("webhook for channel without hospital member", "channel_url", evt.Channel.ChannelURL)
		return nil
	}

	if s.dedupe != nil && evt.Payload.MessageID != 0 {
		eventID := evt.Channel.ChannelURL + ":" + strconv.FormatInt(evt.Payload.MessageID, 10)
		first, err := s.dedupe.MarkProcessed(ctx, webhookSource, eventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	sentAt := s.now().UTC()
	if evt.Payload.CreatedAt > 0 {
		sentAt = time.UnixMilli(evt.Payload.CreatedAt).UTC()
	}
	if s.hub != nil {
		s.hub.Broadcast(hospitalID, Event{
			Type:       "message",
			ChannelURL: evt.Channel.ChannelURL,
			MessageID:  evt.Payload.MessageID,
			SenderID:   evt.Sender.UserID,
			SenderName: evt.Sender.Nickname,
			Message:    evt.Payload.Message,
			SentAt:     sentAt,
		})
	}
	return nil
}
