// Package queue carries transfer messages from producers to consumers with
// at-least-once delivery and per-key ordering.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vipul43/photo-porter/internal/config"
)

var (
	// ErrEmpty is returned by Fetch when no message is ready
	ErrEmpty = errors.New("queue is empty")
	// ErrLeaseLost means the message was settled or reclaimed by someone else
	ErrLeaseLost = errors.New("message lease lost")
)

// Message is one delivered payload. ID stays the same across redeliveries.
type Message struct {
	ID      string
	Key     string
	Payload []byte
	Attempt int
	// Final is set when a Nack dead-letters the message instead of
	// returning it for redelivery
	Final bool
}

// Delivery is a fetched message that must be settled exactly once with Ack or Nack.
type Delivery struct {
	Message
	ack  func(ctx context.Context) error
	nack func(ctx context.Context, cause error) error
}

// NewDelivery builds a delivery settled by the given functions
func NewDelivery(msg Message, ack func(ctx context.Context) error, nack func(ctx context.Context, cause error) error) *Delivery {
	return &Delivery{Message: msg, ack: ack, nack: nack}
}

// Ack marks the message processed
func (d *Delivery) Ack(ctx context.Context) error {
	return d.ack(ctx)
}

// Nack hands the message back for redelivery
func (d *Delivery) Nack(ctx context.Context, cause error) error {
	return d.nack(ctx, cause)
}

type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type Subscriber interface {
	Fetch(ctx context.Context) (*Delivery, error)
	Close() error
}

// NewPublisher returns the publisher for the configured driver
func NewPublisher(cfg *config.Config, db *gorm.DB) (Publisher, error) {
	switch cfg.QueueDriver {
	case config.QueueDriverDatabase:
		return NewDatabaseQueue(db, DatabaseOptions{
			Topic:       cfg.KafkaTopic,
			Lease:       time.Duration(cfg.QueueLeaseSecs) * time.Second,
			MaxAttempts: cfg.QueueMaxAttempts,
		}), nil
	case config.QueueDriverKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaMaxMessageBytes), nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
}

// NewSubscriber returns a subscriber for the configured driver. Every worker
// gets its own subscriber.
func NewSubscriber(cfg *config.Config, db *gorm.DB) (Subscriber, error) {
	switch cfg.QueueDriver {
	case config.QueueDriverDatabase:
		return NewDatabaseQueue(db, DatabaseOptions{
			Topic:       cfg.KafkaTopic,
			Lease:       time.Duration(cfg.QueueLeaseSecs) * time.Second,
			MaxAttempts: cfg.QueueMaxAttempts,
		}), nil
	case config.QueueDriverKafka:
		return NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup, cfg.KafkaMaxMessageBytes), nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
}
