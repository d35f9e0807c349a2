package chat

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-admin/internal/chat/sendbird"
	"github.com/wolfman30/clinic-admin/internal/events"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const (
	testHospitalID = "7b0c8c52-52a4-4c1e-9d59-1f1d3c1f0a11"
	testPatientID  = "3f2d1a40-2a8e-4d4f-b2a6-5c0e7d6b9e21"
	testAPIToken   = "sb-token"
)

type fakePlatform struct {
	users    map[string]string
	channels map[string]*sendbird.Channel
	created  []sendbird.CreateChannelRequest
	sent     []string
	read     []string
	listErr  error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{users: map[string]string{}, channels: map[string]*sendbird.Channel{}}
}

func (f *fakePlatform) EnsureUser(_ context.Context, userID, nickname string) (*sendbird.User, error) {
	f.users[userID] = nickname
	return &sendbird.User{UserID: userID, Nickname: nickname}, nil
}

func (f *fakePlatform) IssueSessionToken(_ context.Context, userID string, expiresAt time.Time) (*sendbird.SessionToken, error) {
	return &sendbird.SessionToken{Token: "st-" + userID, ExpiresAt: expiresAt.UnixMilli()}, nil
}

func (f *fakePlatform) ListMyGroupChannels(_ context.Context, userID string, _ sendbird.ListChannelsOptions) (*sendbird.ChannelList, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &sendbird.ChannelList{}
	for _, ch := range f.channels {
		if ch.HasMember(userID) {
			out.Channels = append(out.Channels, *ch)
		}
	}
	return out, nil
}

func (f *fakePlatform) CreateChannel(_ context.Context, req sendbird.CreateChannelRequest) (*sendbird.Channel, error) {
	f.created = append(f.created, req)
	ch := &sendbird.Channel{ChannelURL: "sendbird_group_channel_1", Name: req.Name, IsDistinct: req.IsDistinct}
	for _, id := range req.UserIDs {
		ch.Members = append(ch.Members, sendbird.Member{UserID: id})
	}
	f.channels[ch.ChannelURL] = ch
	return ch, nil
}

func (f *fakePlatform) GetChannel(_ context.Context, channelURL string) (*sendbird.Channel, error) {
	ch, ok := f.channels[channelURL]
	if !ok {
		return nil, &sendbird.APIError{StatusCode: 400, Code: 400201, Message: "channel not found"}
	}
	return ch, nil
}

func (f *fakePlatform) ListMessages(_ context.Context, channelURL string, _ sendbird.ListMessagesOptions) ([]sendbird.Message, error) {
	return []sendbird.Message{{MessageID: 1, Message: "hello", ChannelURL: channelURL}}, nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelURL, userID, text string) (*sendbird.Message, error) {
	f.sent = append(f.sent, text)
	return &sendbird.Message{MessageID: 2, Message: text, ChannelURL: channelURL, User: &sendbird.User{UserID: userID}}, nil
}

func (f *fakePlatform) MarkAsRead(_ context.Context, channelURL, _ string) error {
	f.read = append(f.read, channelURL)
	return nil
}

type stubHospitals map[string]*hospital.Hospital

func (s stubHospitals) Get(_ context.Context, id string) (*hospital.Hospital, error) {
	h, ok := s[id]
	if !ok {
		return nil, hospital.ErrNotFound
	}
	return h, nil
}

func publishedHospitals() stubHospitals {
	return stubHospitals{testHospitalID: {ID: testHospitalID, Name: "Seoul Skin", Status: hospital.StatusPublished}}
}

func newTestService(platform Platform, hospitals HospitalLookup, hub *Hub, dedupe Deduper) *Service {
	svc := NewService(platform, hospitals, hub, dedupe, Config{AppID: "APP", APIToken: testAPIToken}, logging.Discard())
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	return svc
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAPIToken))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestStartSessionEnsuresHospitalUser(t *testing.T) {
	platform := newFakePlatform()
	svc := newTestService(platform, publishedHospitals(), nil, nil)

	session, err := svc.StartSession(context.Background(), testHospitalID)
	require.NoError(t, err)

	assert.Equal(t, "APP", session.AppID)
	assert.Equal(t, "hospital_"+testHospitalID, session.UserID)
	assert.Equal(t, "st-hospital_"+testHospitalID, session.Token)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), session.ExpiresAt)
	assert.Equal(t, "Seoul Skin", platform.users["hospital_"+testHospitalID])
}

func TestServiceWithoutPlatformIsNotConfigured(t *testing.T) {
	svc := NewService(nil, publishedHospitals(), nil, nil, Config{}, logging.Discard())

	_, err := svc.StartSession(context.Background(), testHospitalID)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = svc.OpenPatientChannel(context.Background(), testHospitalID, "", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenPatientChannel(t *testing.T) {
	platform := newFakePlatform()
	svc := newTestService(platform, publishedHospitals(), nil, nil)

	ch, err := svc.OpenPatientChannel(context.Background(), testHospitalID, testPatientID, "  Jane ")
	require.NoError(t, err)

	assert.Equal(t, "sendbird_group_channel_1", ch.ChannelURL)
	assert.Equal(t, testPatientID, ch.PatientID)
	assert.Equal(t, "patient_"+testPatientID, ch.Session.UserID)
	require.Len(t, platform.created, 1)
	req := platform.created[0]
	assert.True(t, req.IsDistinct)
	assert.Equal(t, "Jane", req.Name)
	assert.ElementsMatch(t, []string{"hospital_" + testHospitalID, "patient_" + testPatientID}, req.UserIDs)
}

func TestOpenPatientChannelMintsPatientID(t *testing.T) {
	platform := newFakePlatform()
	svc := newTestService(platform, publishedHospitals(), nil, nil)

	ch, err := svc.OpenPatientChannel(context.Background(), testHospitalID, "not-a-uuid", "")
	require.NoError(t, err)

	assert.NotEqual(t, "not-a-uuid", ch.PatientID)
	assert.Len(t, ch.PatientID, 36)
	assert.Equal(t, "Guest", platform.users["patient_"+ch.PatientID])
}

func TestOpenPatientChannelRequiresPublishedHospital(t *testing.T) {
	hospitals := stubHospitals{testHospitalID: {ID: testHospitalID, Name: "Draft", Status: hospital.StatusDraft}}
	svc := newTestService(newFakePlatform(), hospitals, nil, nil)

	_, err := svc.OpenPatientChannel(context.Background(), testHospitalID, "", "Jane")
	assert.ErrorIs(t, err, ErrHospitalNotFound)

	_, err = svc.OpenPatientChannel(context.Background(), "missing", "", "Jane")
	assert.ErrorIs(t, err, ErrHospitalNotFound)
}

func TestChannelOwnershipIsEnforced(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["other"] = &sendbird.Channel{ChannelURL: "other", Members: []sendbird.Member{{UserID: "hospital_someone-else"}, {UserID: "patient_x"}}}
	platform.channels["mine"] = &sendbird.Channel{ChannelURL: "mine", Members: []sendbird.Member{{UserID: "hospital_" + testHospitalID}, {UserID: "patient_x"}}}
	svc := newTestService(platform, publishedHospitals(), nil, nil)
	ctx := context.Background()

	_, err := svc.Send(ctx, testHospitalID, "other", "hi")
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, testHospitalID, "other"), ErrChannelNotFound)
	_, err = svc.Messages(ctx, testHospitalID, "missing", 0, 0)
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.Empty(t, platform.sent)

	msg, err := svc.Send(ctx, testHospitalID, "mine", "  see you at 3pm ")
	require.NoError(t, err)
	assert.Equal(t, "see you at 3pm", msg.Message)
	require.NoError(t, svc.MarkRead(ctx, testHospitalID, "mine"))
	assert.Equal(t, []string{"mine"}, platform.read)

	msgs, err := svc.Messages(ctx, testHospitalID, "mine", 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	svc := newTestService(newFakePlatform(), publishedHospitals(), nil, nil)
	_, err := svc.Send(context.Background(), testHospitalID, "mine", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendRejectsOverlongMessageByCharacters(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["mine"] = &sendbird.Channel{ChannelURL: "mine", Members: []sendbird.Member{{UserID: "hospital_" + testHospitalID}}}
	svc := newTestService(platform, publishedHospitals(), nil, nil)
	ctx := context.Background()

	// 5000 Hangul syllables are 15000 bytes but within the character limit.
	fits := strings.Repeat("안", maxMessageLength)
	msg, err := svc.Send(ctx, testHospitalID, "mine", fits)
	require.NoError(t, err)
	assert.Equal(t, fits, msg.Message)
	assert.True(t, utf8.ValidString(platform.sent[0]))

	_, err = svc.Send(ctx, testHospitalID, "mine", "a"+fits)
	assert.ErrorIs(t, err, ErrMessageTooLong)
	assert.Len(t, platform.sent, 1)
}

func TestListChannelsForUnknownUserIsEmpty(t *testing.T) {
	platform := newFakePlatform()
	platform.listErr = &sendbird.APIError{StatusCode: 400, Code: 400201, Message: "user not found"}
	svc := newTestService(platform, publishedHospitals(), nil, nil)

	list, err := svc.ListChannels(context.Background(), testHospitalID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, list.Channels)
}

const messageWebhook = `{
	"category": "group_channel:message_send",
	"app_id": "APP",
	"sender": {"user_id": "patient_x", "nickname": "Jane"},
	"members": [{"user_id": "patient_x"}, {"user_id": "hospital_` + testHospitalID + `"}],
	"channel": {"channel_url": "sendbird_group_channel_1", "name": "Jane"},
	"payload": {"message_id": 42, "message": "is tomorrow ok?", "created_at": 1772409600000}
}`

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc := newTestService(newFakePlatform(), publishedHospitals(), NewHub(nil, logging.Discard()), nil)

	err := svc.HandleWebhook(context.Background(), []byte(messageWebhook), "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhookBroadcastsOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	hub := NewHub(nil, logging.Discard())
	c := &client{hospitalID: testHospitalID, send: make(chan []byte, 4)}
	hub.register(c)

	svc := newTestService(newFakePlatform(), publishedHospitals(), hub, events.NewProcessedStore(mock))
	body := []byte(messageWebhook)

	mock.ExpectExec("INSERT INTO processed_webhooks").
		WithArgs("sendbird", "sendbird_group_channel_1:42").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_webhooks").
		WithArgs("sendbird", "sendbird_group_channel_1:42").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, svc.HandleWebhook(context.Background(), body, sign(body)))
	require.NoError(t, svc.HandleWebhook(context.Background(), body, sign(body)))

	require.Len(t, c.send, 1)
	msg := <-c.send
	assert.Contains(t, string(msg), `"message":"is tomorrow ok?"`)
	assert.Contains(t, string(msg), `"sender_name":"Jane"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookIgnoresOtherCategories(t *testing.T) {
	svc := newTestService(newFakePlatform(), publishedHospitals(), nil, nil)
	body := []byte(`{"category":"group_channel:join"}`)

	assert.NoError(t, svc.HandleWebhook(context.Background(), body, sign(body)))
}

func TestHandleWebhookDedupeFailure(t *testing.T) {
	svc := newTestService(newFakePlatform(), publishedHospitals(), nil, failingDeduper{})
	body := []byte(messageWebhook)

	err := svc.HandleWebhook(context.Background(), body, sign(body))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPayload)
}

func TestHandleWebhookMalformedBody(t *testing.T) {
	svc := newTestService(newFakePlatform(), publishedHospitals(), nil, nil)
	body := []byte(`{"category":`)

	assert.ErrorIs(t, svc.HandleWebhook(context.Background(), body, sign(body)), ErrInvalidPayload)
}

type failingDeduper struct{}

func (failingDeduper) MarkProcessed(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}
