package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

func enqueueForTest(t *testing.T, store *Store, msgs ...domain.OutboxMessage) {
	t.Helper()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, msg := range msgs {
			if err := tx.EnqueueOutbox(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue outbox: %v", err)
	}
}

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	enqueueForTest(t, store,
		domain.OutboxMessage{
			AggregateType: domain.OutboxAggregateRegistration,
			AggregateID:   "order-1",
			EventType:     domain.OutboxEventAwaitingLink,
			Payload:       []byte(`{"order_id":"order-1"}`),
		},
		domain.OutboxMessage{
			ID:            "outbox-fixed-id",
			AggregateType: domain.OutboxAggregateRegistration,
			AggregateID:   "order-2",
			EventType:     domain.OutboxEventOrphaned,
			Payload:       []byte(`{"order_id":"order-2"}`),
		},
	)

	pending, err := store.PullPending(ctx, 0) // default limit path
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID == "" || pending[0].AggregateID != "order-1" {
		t.Fatalf("unexpected first message: %+v", pending[0])
	}
	if pending[1].ID != "outbox-fixed-id" {
		t.Fatalf("expected fixed id, got %q", pending[1].ID)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats before marks: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected pending=2 before marks, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}

	if err := store.MarkSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := store.MarkFailed(ctx, pending[1].ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	after, err := store.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull pending after marks: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected no pending after marks, got %d", len(after))
	}
}

func TestOutboxRepository_PostgresRolledBackEnqueueIsInvisible(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.OutboxAggregateRegistration,
			AggregateID:   "order-rollback",
			EventType:     domain.OutboxEventCompleted,
			Payload:       []byte(`{}`),
		}); err != nil {
			return err
		}
		return boom
	})
	if err == nil {
		t.Fatal("expected tx error")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("rolled back message must not be pending, got %d", stats.PendingCount)
	}
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	if err := store.MarkSent(ctx, "missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark sent missing id, got %v", err)
	}
	if err := store.MarkFailed(ctx, "missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark failed missing id, got %v", err)
	}
}

func TestOutboxRepository_PostgresStatsOldestPending(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Minute)
	enqueueForTest(t, store,
		domain.OutboxMessage{
			AggregateType: domain.OutboxAggregateRegistration,
			AggregateID:   "order-old",
			EventType:     domain.OutboxEventExpired,
			Payload:       []byte(`{}`),
			CreatedAt:     old,
		},
		domain.OutboxMessage{
			AggregateType: domain.OutboxAggregateRegistration,
			AggregateID:   "order-new",
			EventType:     domain.OutboxEventExpired,
			Payload:       []byte(`{}`),
		},
	)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected pending=2, got %d", stats.PendingCount)
	}
	if !stats.OldestPendingAt.Equal(old.Truncate(time.Microsecond)) {
		t.Fatalf("unexpected oldest pending time: got=%s want=%s", stats.OldestPendingAt, old)
	}
}
