package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	messageIDHeader = "message-id"

	// defaultMaxMessageBytes leaves room for a base64 photo; kafka-go's own
	// default of 1 MiB rejects most of them.
	defaultMaxMessageBytes = 64 << 20
)

// KafkaPublisher writes messages keyed by item id. The hash balancer keeps
// every key on one partition, which gives per-key order. Messages are
// bounded by maxMessageBytes; the broker and topic max.message.bytes must
// be at least as large.
type KafkaPublisher struct {
	writer  *kafka.Writer
	brokers []string
}

func NewKafkaPublisher(brokers []string, topic string, maxMessageBytes int) *KafkaPublisher {
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			BatchBytes:   int64(maxMessageBytes),
		},
		brokers: brokers,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.publish(ctx, key, payload, uuid.New().String())
}

func (p *KafkaPublisher) publish(ctx context.Context, key string, payload []byte, messageID string) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: []kafka.Header{{Key: messageIDHeader, Value: []byte(messageID)}},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}
	return nil
}

// HealthCheck dials the first reachable broker
func (p *KafkaPublisher) HealthCheck(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber reads through a consumer group. Ack commits the offset;
// Nack re-publishes the message under the same id and then commits, because
// committing a later offset would otherwise skip it.
type KafkaSubscriber struct {
	reader  *kafka.Reader
	requeue *KafkaPublisher
}

func NewKafkaSubscriber(brokers []string, topic, groupID string, maxMessageBytes int) *KafkaSubscriber {
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: maxMessageBytes,
			MaxWait:  time.Second,
		}),
		requeue: NewKafkaPublisher(brokers, topic, maxMessageBytes),
	}
}

// Fetch blocks until a message arrives or ctx is done
func (s *KafkaSubscriber) Fetch(ctx context.Context) (*Delivery, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	id := headerValue(m.Headers, messageIDHeader)
	if id == "" {
		id = fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
	}

	return NewDelivery(
		Message{ID: id, Key: string(m.Key), Payload: m.Value, Attempt: 1},
		func(ctx context.Context) error {
			return s.reader.CommitMessages(ctx, m)
		},
		func(ctx context.Context, cause error) error {
			log.Warnf("Requeueing kafka message %s: %v", id, cause)
			if err := s.requeue.publish(ctx, string(m.Key), m.Value, id); err != nil {
				return err
			}
			return s.reader.CommitMessages(ctx, m)
		},
	), nil
}

func (s *KafkaSubscriber) Close() error {
	rerr := s.reader.Close()
	werr := s.requeue.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
