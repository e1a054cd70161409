package kafka

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

func expectTopic(topic, eventType string) mocks.MessageChecker {
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return fmt.Errorf("topic %q, want %q", msg.Topic, topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType || string(msg.Headers[0].Value) != eventType {
			return fmt.Errorf("unexpected headers %v", msg.Headers)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope outboxEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.EventType != eventType {
			return fmt.Errorf("envelope event %q, want %q", envelope.EventType, eventType)
		}
		return nil
	}
}

func TestOutboxPublisher_RoutesByAggregate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		aggregate string
		event     string
		topic     string
	}{
		{domain.AggregateOrder, domain.EventOrderCreated, TopicOrderEvents},
		{domain.AggregatePayment, domain.EventPaymentCaptured, TopicPaymentEvents},
		{domain.AggregateStock, domain.EventStockAdjusted, TopicStockEvents},
	}

	mockProducer := mocks.NewSyncProducer(t, nil)
	for _, tc := range cases {
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectTopic(tc.topic, tc.event))
	}

	publisher := NewOutboxPublisher(newProducer(mockProducer, log.WithField("component", "outbox-publisher-test")), "")
	for i, tc := range cases {
		err := publisher.Publish(domain.OutboxMessage{
			ID:            fmt.Sprintf("outbox-%d", i),
			AggregateType: tc.aggregate,
			AggregateID:   "agg-1",
			EventType:     tc.event,
			Payload:       []byte(`{"ok":true}`),
		})
		if err != nil {
			t.Fatalf("publish %s failed: %v", tc.event, err)
		}
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_FixedTopic(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectTopic(TopicDeadLetterQueue, domain.EventOrderPaid))

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil), TopicDeadLetterQueue)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-dlq",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderPaid,
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil), "")
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-234",
		EventType:     domain.EventOrderFailed,
		Payload:       []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, "")
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
