package sendbird

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-admin/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIToken: "tok", BaseURL: srv.URL, Backoff: time.Millisecond, Logger: logging.Discard()})
	require.NoError(t, err)
	return c
}

func TestNewDefaultsBaseURLFromAppID(t *testing.T) {
	c, err := New(Config{AppID: "ABC-123", APIToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "https://api-ABC-123.sendbird.com/v3", c.baseURL)

	_, err = New(Config{AppID: "ABC-123"})
	assert.Error(t, err)
}

func TestNewClampsRetries(t *testing.T) {
	c, err := New(Config{APIToken: "tok", BaseURL: "http://sendbird.test", MaxRetries: 64})
	require.NoError(t, err)
	assert.Equal(t, retryLimit, c.maxRetries)

	c, err = New(Config{APIToken: "tok", BaseURL: "http://sendbird.test", MaxRetries: -3})
	require.NoError(t, err)
	assert.Zero(t, c.maxRetries)
}

func TestEnsureUserSendsTokenHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("Api-Token"))
		assert.Equal(t, "/users", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hospital_1", body["user_id"])
		_, _ = w.Write([]byte(`{"user_id":"hospital_1","nickname":"Gangnam Skin"}`))
	})

	u, err := c.EnsureUser(context.Background(), "hospital_1", "Gangnam Skin")
	require.NoError(t, err)
	assert.Equal(t, "hospital_1", u.UserID)
}

func TestEnsureUserTreatsDuplicateAsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"code":400202,"message":"\"UserId\" violates unique constraint."}`))
	})

	u, err := c.EnsureUser(context.Background(), "patient_9", "Jane")
	require.NoError(t, err)
	assert.Equal(t, "patient_9", u.UserID)
}

func TestListMyGroupChannelsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/hospital_1/my_group_channels", r.URL.Path)
		assert.Equal(t, "latest_last_message", r.URL.Query().Get("order"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "cursor", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"channels":[{"channel_url":"c1","members":[{"user_id":"hospital_1"}]}],"next":"n2"}`))
	})

	list, err := c.ListMyGroupChannels(context.Background(), "hospital_1", ListChannelsOptions{Token: "cursor", Limit: 20})
	require.NoError(t, err)
	require.Len(t, list.Channels, 1)
	assert.True(t, list.Channels[0].HasMember("hospital_1"))
	assert.Equal(t, "n2", list.Next)
}

func TestRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"messages":[{"message_id":1,"message":"hi"}]}`)
	}))
	defer srv.Close()
	c, err := New(Config{APIToken: "tok", BaseURL: srv.URL, MaxRetries: 1, Backoff: time.Millisecond, Logger: logging.Discard()})
	require.NoError(t, err)

	msgs, err := c.ListMessages(context.Background(), "c1", ListMessagesOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 2, calls)
}

func TestSendMessageNotRepeatedAfterServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":true,"code":500901,"message":"internal"}`)
	}))
	defer srv.Close()
	c, err := New(Config{APIToken: "tok", BaseURL: srv.URL, MaxRetries: 3, Backoff: time.Millisecond, Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = c.SendMessage(context.Background(), "c1", "hospital_1", "see you at 3pm")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, 1, calls, "a POST that may have been applied must not be sent twice")
}

func TestSendMessageRetriedWhenThrottled(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"message_id":7,"message":"see you at 3pm"}`)
	}))
	defer srv.Close()
	c, err := New(Config{APIToken: "tok", BaseURL: srv.URL, MaxRetries: 2, Backoff: time.Millisecond, Logger: logging.Discard()})
	require.NoError(t, err)

	msg, err := c.SendMessage(context.Background(), "c1", "hospital_1", "see you at 3pm")
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.MessageID)
	assert.Equal(t, 2, calls)
}

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		method string
		status int
		err    error
		want   bool
	}{
		{http.MethodGet, http.StatusServiceUnavailable, nil, true},
		{http.MethodPut, http.StatusBadGateway, nil, true},
		{http.MethodGet, http.StatusNotFound, nil, false},
		{http.MethodPost, http.StatusInternalServerError, nil, false},
		{http.MethodPost, http.StatusTooManyRequests, nil, true},
		{http.MethodPost, 0, errors.New("connection reset"), false},
		{http.MethodGet, 0, errors.New("connection reset"), true},
		{http.MethodGet, 0, context.Canceled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, shouldRetry(tc.method, tc.status, tc.err), "%s %d %v", tc.method, tc.status, tc.err)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"code":400201,"message":"User not found."}`))
	})

	_, err := c.IssueSessionToken(context.Background(), "ghost", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, IsUserNotFound(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"category":"group_channel:message_send"}`)
	mac := hmac.New(sha256.New, []byte("tok"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature("tok", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("tok", body, "abc"))
	assert.False(t, VerifySignature("", body, sig))
}
