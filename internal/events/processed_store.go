package events

import (
	"context"
	"fmt"
)

// ProcessedStore remembers inbound webhook deliveries so retries from the
// chat provider are acted on once.
type ProcessedStore struct {
	db execer
}

func NewProcessedStore(db execer) *ProcessedStore {
	if db == nil {
		panic("events: db required")
	}
	return &ProcessedStore{db: db}
}

// MarkProcessed records (source, eventID) and reports whether this is the
// first time it was seen.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_webhooks (source, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
