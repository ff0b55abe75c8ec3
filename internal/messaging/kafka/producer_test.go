package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "order_abc123" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})

	event := RegistrationEvent{
		EventType: EventTypeEntityCreated,
		OrderID:   "order_abc123",
		EntityID:  "member_42",
	}

	if err := producer.PublishEvent(context.Background(), TopicRegistrationEvents, "order_abc123", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(context.Background(), TopicPaymentEvents, "order_abc123", map[string]string{"status": "COMPLETED"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishRaw_CanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.PublishRaw(ctx, TopicPaymentEvents, "k", []byte("{}")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestParseRegistrationEvent(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{
			name:  "valid",
			value: `{"event_type":"registration.entity_created","order_id":" order_abc123 ","entity_id":"member_42","entity_type":"member"}`,
		},
		{name: "broken json", value: `{`, wantErr: true},
		{name: "missing entity", value: `{"event_type":"registration.entity_created","order_id":"order_abc123"}`, wantErr: true},
		{name: "unknown event type", value: `{"event_type":"registration.deleted","order_id":"o","entity_id":"e"}`, wantErr: true},
		{name: "unknown entity type", value: `{"event_type":"registration.entity_created","order_id":"o","entity_id":"e","entity_type":"TRUSTEE"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseRegistrationEvent(&sarama.ConsumerMessage{Value: []byte(tt.value)})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.OrderID != "order_abc123" || event.EntityType != "MEMBER" {
				t.Fatalf("unexpected event: %+v", event)
			}
		})
	}
}
