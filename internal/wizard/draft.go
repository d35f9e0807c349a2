package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDraftTTL = 7 * 24 * time.Hour
	maxDraftBytes   = 256 << 10
)

// ErrDraftNotFound is returned when no draft is saved for a step.
var ErrDraftNotFound = errors.New("wizard: draft not found")

// ErrDraftTooLarge rejects oversized form state.
var ErrDraftTooLarge = errors.New("wizard: draft too large")

// DraftStore keeps unsubmitted form state per hospital and step in Redis.
type DraftStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	if client == nil {
		panic("wizard: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	return &DraftStore{redis: client, ttl: ttl, tracer: otel.Tracer("clinicadmin.internal.wizard.drafts")}
}

func draftKey(hospitalID string, step int) string {
	return fmt.Sprintf("wizard:draft:%s:%d", hospitalID, step)
}

// Save stores data, which must be a JSON document, and refreshes the TTL.
func (s *DraftStore) Save(ctx context.Context, hospitalID string, step int, data json.RawMessage) error {
	ctx, span := s.tracer.Start(ctx, "wizard.save_draft")
	defer span.End()

	if len(data) > maxDraftBytes {
		return ErrDraftTooLarge
	}
	if !json.Valid(data) {
		return fmt.Errorf("wizard: draft is not valid JSON")
	}
	if err := s.redis.Set(ctx, draftKey(hospitalID, step), []byte(data), s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("wizard: failed to save draft: %w", err)
	}
	return nil
}

func (s *DraftStore) Load(ctx context.Context, hospitalID string, step int) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "wizard.load_draft")
	defer span.End()

	data, err := s.redis.Get(ctx, draftKey(hospitalID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("wizard: failed to load draft: %w", err)
	}
	return json.RawMessage(data), nil
}

func (s *DraftStore) Delete(ctx context.Context, hospitalID string, step int) error {
	if err := s.redis.Del(ctx, draftKey(hospitalID, step)).Err(); err != nil {
		return fmt.Errorf("wizard: failed to delete draft: %w", err)
	}
	return nil
}
