// Package sendbird is a small client for the Sendbird Platform API v3.
package sendbird

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

var tracer = otel.Tracer("clinicadmin.internal.chat.sendbird")

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("sendbird: service unavailable")

const (
	codeUserNotFound      = 400201
	codeUniqueConstraint  = 400202
	defaultProfileURL     = ""
	defaultUserAgent      = "clinic-admin/1.0"
	signatureHeaderLength = 64

	// retryLimit caps Config.MaxRetries; the backoff doubles per attempt.
	retryLimit = 5
)

// Config controls how the client behaves.
type Config struct {
	AppID      string
	APIToken   string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Client wraps the Sendbird REST endpoints used by the chat module.
type Client struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a configured Client. BaseURL defaults to
// https://api-{AppID}.sendbird.com/v3.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("sendbird: API token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		if strings.TrimSpace(cfg.AppID) == "" {
			return nil, errors.New("sendbird: app id or base URL is required")
		}
		baseURL = fmt.Sprintf("https://api-%s.sendbird.com/v3", strings.TrimSpace(cfg.AppID))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	c := &Client{
		apiToken:   cfg.APIToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxRetries: min(max(cfg.MaxRetries, 0), retryLimit),
		backoff:    backoff,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "sendbird-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers mean the API is up.
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// EnsureUser creates the user, treating "already exists" as success.
func (c *Client) EnsureUser(ctx context.Context, userID, nickname string) (*User, error) {
	body := map[string]any{
		"user_id":     userID,
		"nickname":    nickname,
		"profile_url": defaultProfileURL,
	}
	var user User
	err := c.call(ctx, "create_user", http.MethodPost, "/users", nil, body, &user)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeUniqueConstraint {
		return &User{UserID: userID, Nickname: nickname}, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IssueSessionToken returns a session token for userID valid until expiresAt.
func (c *Client) IssueSessionToken(ctx context.Context, userID string, expiresAt time.Time) (*SessionToken, error) {
	body := map[string]any{"expires_at": expiresAt.UnixMilli()}
	var tok SessionToken
	if err := c.call(ctx, "issue_token", http.MethodPost, "/users/"+url.PathEscape(userID)+"/token", nil, body, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// ListMyGroupChannels lists userID's channels, most recent message first.
func (c *Client) ListMyGroupChannels(ctx context.Context, userID string, opts ListChannelsOptions) (*ChannelList, error) {
	q := url.Values{}
	q.Set("order", "latest_last_message")
	q.Set("show_member", "true")
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	var out ChannelList
	if err := c.call(ctx, "list_channels", http.MethodGet, "/users/"+url.PathEscape(userID)+"/my_group_channels", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Channels == nil {
		out.Channels = []Channel{}
	}
	return &out, nil
}

// CreateChannel opens a group channel. With IsDistinct the existing channel
// between the same users is returned.
func (c *Client) CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error) {
	var ch Channel
	if err := c.call(ctx, "create_channel", http.MethodPost, "/group_channels", nil, req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChannel fetches a channel including its members.
func (c *Client) GetChannel(ctx context.Context, channelURL string) (*Channel, error) {
	q := url.Values{}
	q.Set("show_member", "true")
	var ch Channel
	if err := c.call(ctx, "get_channel", http.MethodGet, "/group_channels/"+url.PathEscape(channelURL), q, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListMessages returns up to Limit messages sent before opts.Before.
func (c *Client) ListMessages(ctx context.Context, channelURL string, opts ListMessagesOptions) ([]Message, error) {
	before := opts.Before
	if before <= 0 {
		before = time.Now().UnixMilli()
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := url.Values{}
	q.Set("message_ts", strconv.FormatInt(before, 10))
	q.Set("prev_limit", strconv.Itoa(limit))
	q.Set("next_limit", "0")
	q.Set("include", "false")
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.call(ctx, "list_messages", http.MethodGet, "/group_channels/"+url.PathEscape(channelURL)+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out.Messages, nil
}

// SendMessage posts a text message as userID.
func (c *Client) SendMessage(ctx context.Context, channelURL, userID, text string) (*Message, error) {
	body := map[string]any{
		"message_type": "MESG",
		"user_id":      userID,
		"message":      text,
	}
	var msg Message
	if err := c.call(ctx, "send_message", http.MethodPost, "/group_channels/"+url.PathEscape(channelURL)+"/messages", nil, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkAsRead marks every message in the channel read for userID.
func (c *Client) MarkAsRead(ctx context.Context, channelURL, userID string) error {
	body := map[string]any{"user_id": userID}
	return c.call(ctx, "mark_read", http.MethodPut, "/group_channels/"+url.PathEscape(channelURL)+"/messages/mark_as_read", nil, body, nil)
}

// IsUserNotFound reports whether err is Sendbird's "user not found".
func IsUserNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeUserNotFound
}

// VerifySignature checks x-sendbird-signature, the hex HMAC-SHA256 of the raw
// body keyed with the API token.
func VerifySignature(apiToken string, payload []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if apiToken == "" || len(signature) != signatureHeaderLength {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(apiToken))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	ctx, span := tracer.Start(ctx, "sendbird."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("sendbird.path", path))

	var body []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("sendbird: marshal %s body: %w", op, err)
		}
		body = data
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.invoke(ctx, method, path, query, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.metrics.ObserveChatCall(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("sendbird: decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("sendbird: build request: %w", err)
		}
		req.Header.Set("Api-Token", c.apiToken)
		req.Header.Set("User-Agent", defaultUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json; charset=utf8")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("sendbird: http error: %w", err)
			if !shouldRetry(method, 0, err) || attempt == c.maxRetries {
				return nil, lastErr
			}
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("sendbird: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(method, resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("sendbird: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt, status int, err error) {
	c.logger.Warn("sendbird retry", "path", path, "attempt", attempt+1, "status", status, "error", err)
}

// shouldRetry reports whether a failed attempt may be sent again. A POST that
// timed out or got a 5xx may already have been applied (a message posted, a
// channel created), so POSTs are only repeated after a 429.
func shouldRetry(method string, status int, err error) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if !idempotent(method) {
		return false
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status >= 500 && status <= 599
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// APIError is an error answer from Sendbird.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("sendbird: %s (status=%d code=%d)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("sendbird: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return &parsed
}
