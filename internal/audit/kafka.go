package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaPayload is the JSON record published for downstream consumers (SIEM,
// compliance archive). Field names are part of the wire contract.
type kafkaPayload struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	SubjectID string         `json:"subject_id,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Action    string         `json:"action"`
	Decision  string         `json:"decision,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// KafkaSink mirrors audit events onto a Kafka topic. Delivery is best-effort;
// the store remains the durable trail.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

const kafkaProduceTimeout = 5 * time.Second

// NewKafkaSink connects to the given brokers. Returns nil if brokers is empty
// (Kafka not configured).
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Deliver publishes one event. The record key is the subject ID when present
// so per-subject ordering is preserved across partitions.
func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	payload := kafkaPayload{
		ID:        event.ID.String(),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Phone:     event.Phone,
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		IP:        event.IP,
		RequestID: event.RequestID,
		Metadata:  event.Metadata,
	}
	var key []byte
	if !event.Subject.IsNil() {
		payload.SubjectID = event.Subject.String()
		key = []byte(payload.SubjectID)
	} else {
		key = []byte(event.ID.String())
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	produceCtx, cancel := context.WithTimeout(ctx, kafkaProduceTimeout)
	defer cancel()
	record := &kgo.Record{Topic: s.topic, Key: key, Value: value}
	if err := s.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the Kafka client.
func (s *KafkaSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
