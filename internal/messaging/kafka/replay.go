package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// consumerDLQPayload — конверт, который Consumer пишет в DLQ.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	RetryCount    int    `json:"retry_count"`
}

// outboxDLQPayload — полезная нагрузка outbox-события, не доставленного воркером.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// ReplayMessage — восстановленное из DLQ исходное сообщение.
type ReplayMessage struct {
	Topic      string
	Key        string
	Value      []byte
	EventType  string
	RetryCount int
}

// ProducerMessage собирает сообщение для повторной отправки.
func (m ReplayMessage) ProducerMessage() *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(m.RetryCount))},
	}
	if m.EventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(m.EventType)})
	}
	return &sarama.ProducerMessage{
		Topic:     m.Topic,
		Key:       sarama.StringEncoder(m.Key),
		Value:     sarama.ByteEncoder(m.Value),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	}
}

// ExtractReplay разбирает сообщение DLQ. Понимает конверты Consumer и outbox worker.
// ok=false без ошибки означает чужой формат, который нужно пропустить.
// Непустой topicOverride заменяет вычисленный topic назначения.
func ExtractReplay(msg *sarama.ConsumerMessage, topicOverride string) (ReplayMessage, bool, error) {
	topicOverride = strings.TrimSpace(topicOverride)

	var consumerPayload consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		topic := firstNonEmpty(topicOverride, consumerPayload.OriginalTopic, headerValue(msg, HeaderOriginalTopic))
		if topic == "" {
			return ReplayMessage{}, false, fmt.Errorf("consumer dlq message has no original topic")
		}
		return ReplayMessage{
			Topic:      topic,
			Key:        consumerPayload.OriginalKey,
			Value:      []byte(consumerPayload.OriginalValue),
			RetryCount: consumerPayload.RetryCount,
		}, true, nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return ReplayMessage{}, false, nil
	}

	var dlqPayload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &dlqPayload); err != nil {
		return ReplayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlqPayload.Payload) == 0 {
		return ReplayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := outboxEnvelope{
		ID:            firstNonEmpty(dlqPayload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dlqPayload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dlqPayload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dlqPayload.EventType, envelope.EventType),
		Payload:       dlqPayload.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return ReplayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{
		Topic:     firstNonEmpty(topicOverride, TopicForAggregate(replay.AggregateType)),
		Key:       firstNonEmpty(replay.AggregateID, replay.ID),
		Value:     encoded,
		EventType: replay.EventType,
	}, true, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, header := range msg.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
