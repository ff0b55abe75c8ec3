package app

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

type noopLinker struct{}

func (noopLinker) LinkRegistration(context.Context, string, string) (domain.LinkOutcome, error) {
	return domain.LinkOutcomeLinked, nil
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, "test", testLogger())
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	// На этом порту никто не слушает, подключение отклоняется сразу.
	producer, err := initKafkaProducer([]string{"127.0.0.1:1"}, "test", testLogger())
	if err == nil {
		t.Error("expected error for unreachable brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestInitRegistrationConsumer_Disabled(t *testing.T) {
	consumer, err := initRegistrationConsumer(DefaultConfig(), noopLinker{}, nil, testLogger())
	if err != nil {
		t.Fatalf("expected no error without brokers, got %v", err)
	}
	if consumer != nil {
		t.Fatal("expected nil consumer without brokers")
	}
}

func TestInitRegistrationConsumer_UnreachableBrokers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}

	consumer, err := initRegistrationConsumer(cfg, noopLinker{}, nil, testLogger())
	if err == nil {
		t.Error("expected error for unreachable brokers")
	}
	if consumer != nil {
		t.Error("expected nil consumer on error")
	}
}

func TestKafkaHelpers_NilSafe(_ *testing.T) {
	closeKafkaProducer(nil, testLogger())
	stopKafkaConsumer(nil, testLogger())
}
