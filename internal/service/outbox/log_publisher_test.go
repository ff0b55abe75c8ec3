package outbox

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

func TestLogPublisher_LogsAndSucceeds(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	publisher := NewLogPublisher(log.NewEntry(logger))

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "msg-1",
		AggregateID: "order_abc123",
		EventType:   domain.OutboxEventCompleted,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Data["aggregate_id"] != "order_abc123" {
		t.Fatalf("unexpected aggregate_id field: %v", entry.Data["aggregate_id"])
	}
}
