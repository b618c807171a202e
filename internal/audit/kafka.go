package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces audit events to a topic, keyed by identity ID so each
// identity's events stay ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to brokers and makes sure topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka audit sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka audit sink requires a topic")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, kadm.NewClient(client), topic); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func ensureTopic(ctx context.Context, adm *kadm.Client, topic string) error {
	resp, err := adm.CreateTopic(ctx, 1, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %s: %w", topic, resp.Err)
	}
	return nil
}

func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic:     s.topic,
		Key:       []byte(event.IdentityID),
		Value:     payload,
		Timestamp: event.Timestamp,
		Headers:   []kgo.RecordHeader{{Key: "action", Value: []byte(event.Action)}},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
