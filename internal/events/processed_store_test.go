package events

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestProcessedStoreMarksOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewProcessedStore(mock)

	mock.ExpectExec("INSERT INTO processed_webhooks").WithArgs("sendbird", "msg-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	first, err := store.MarkProcessed(context.Background(), "sendbird", "msg-1")
	if err != nil || !first {
		t.Fatalf("expected first delivery, got first=%v err=%v", first, err)
	}

	mock.ExpectExec("INSERT INTO processed_webhooks").WithArgs("sendbird", "msg-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	first, err = store.MarkProcessed(context.Background(), "sendbird", "msg-1")
	if err != nil || first {
		t.Fatalf("expected duplicate, got first=%v err=%v", first, err)
	}

	mock.ExpectExec("INSERT INTO processed_webhooks").WithArgs("sendbird", "msg-2").WillReturnError(errors.New("conn reset"))
	if _, err := store.MarkProcessed(context.Background(), "sendbird", "msg-2"); err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
