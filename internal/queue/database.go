package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vipul43/photo-porter/internal/models"
)

const (
	claimBatch = 10
	maxBackoff = 5 * time.Minute
)

type DatabaseOptions struct {
	Topic       string
	Lease       time.Duration
	MaxAttempts int
}

// DatabaseQueue keeps messages in the queue_message table. A consumer claims
// a row by taking its lease; an expired lease makes the row claimable again.
type DatabaseQueue struct {
	db    *gorm.DB
	opts  DatabaseOptions
	owner string
	now   func() time.Time
}

func NewDatabaseQueue(db *gorm.DB, opts DatabaseOptions) *DatabaseQueue {
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &DatabaseQueue{
		db:    db,
		opts:  opts,
		owner: uuid.New().String(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Publish appends a message to the topic
func (q *DatabaseQueue) Publish(ctx context.Context, key string, payload []byte) error {
	msg := models.QueueMessage{
		Topic:     q.opts.Topic,
		Key:       key,
		Payload:   payload,
		CreatedAt: q.now(),
	}
	if err := q.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Fetch claims the oldest ready message. A message is skipped while an older
// unsettled message with the same key exists.
func (q *DatabaseQueue) Fetch(ctx context.Context) (*Delivery, error) {
	now := q.now()

	var candidates []models.QueueMessage
	result := q.db.WithContext(ctx).
		Select("id").
		Where("topic = ? AND acked_at IS NULL AND dead_at IS NULL", q.opts.Topic).
		Where("lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Where(`NOT EXISTS (
			SELECT 1 FROM queue_message older
			WHERE older.topic = queue_message.topic
			  AND older.partition_key = queue_message.partition_key
			  AND older.id < queue_message.id
			  AND older.acked_at IS NULL
			  AND older.dead_at IS NULL)`).
		Order("id ASC").
		Limit(claimBatch).
		Find(&candidates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query queue: %w", result.Error)
	}

	leaseUntil := now.Add(q.opts.Lease)
	for _, c := range candidates {
		claim := q.db.WithContext(ctx).Model(&models.QueueMessage{}).
			Where("id = ? AND acked_at IS NULL AND dead_at IS NULL", c.ID).
			Where("lease_expires_at IS NULL OR lease_expires_at < ?", now).
			Updates(map[string]interface{}{
				"lease_owner":      q.owner,
				"lease_expires_at": leaseUntil,
				"attempts":         gorm.Expr("attempts + 1"),
			})
		if claim.Error != nil {
			return nil, fmt.Errorf("failed to claim message %d: %w", c.ID, claim.Error)
		}
		if claim.RowsAffected == 0 {
			// another consumer won the race
			continue
		}

		var msg models.QueueMessage
		if err := q.db.WithContext(ctx).First(&msg, "id = ?", c.ID).Error; err != nil {
			return nil, fmt.Errorf("failed to load claimed message %d: %w", c.ID, err)
		}
		return q.delivery(msg), nil
	}

	return nil, ErrEmpty
}

func (q *DatabaseQueue) delivery(msg models.QueueMessage) *Delivery {
	id := msg.ID
	return NewDelivery(
		Message{
			ID:      strconv.FormatInt(id, 10),
			Key:     msg.Key,
			Payload: msg.Payload,
			Attempt: msg.Attempts,
			Final:   msg.Attempts >= q.opts.MaxAttempts,
		},
		func(ctx context.Context) error { return q.ack(ctx, id) },
		func(ctx context.Context, cause error) error { return q.nack(ctx, id, msg.Attempts, cause) },
	)
}

func (q *DatabaseQueue) ack(ctx context.Context, id int64) error {
	result := q.db.WithContext(ctx).Model(&models.QueueMessage{}).
		Where("id = ? AND lease_owner = ? AND acked_at IS NULL", id, q.owner).
		Updates(map[string]interface{}{
			"acked_at":         q.now(),
			"lease_owner":      nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to ack message %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrLeaseLost, id)
	}
	return nil
}

// nack releases the lease after a backoff, or dead-letters the message once it
// has used all attempts.
func (q *DatabaseQueue) nack(ctx context.Context, id int64, attempts int, cause error) error {
	now := q.now()
	updates := map[string]interface{}{
		"lease_owner": nil,
	}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}

	if attempts >= q.opts.MaxAttempts {
		updates["dead_at"] = now
		updates["lease_expires_at"] = nil
		log.Warnf("Message %d dead-lettered after %d attempts: %v", id, attempts, cause)
	} else {
		updates["lease_expires_at"] = now.Add(backoff(attempts))
	}

	result := q.db.WithContext(ctx).Model(&models.QueueMessage{}).
		Where("id = ? AND lease_owner = ? AND acked_at IS NULL", id, q.owner).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to nack message %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrLeaseLost, id)
	}
	return nil
}

// backoff doubles from one second up to maxBackoff
func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 9 {
		return maxBackoff
	}
	d := time.Second << (attempts - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Pending counts messages that are neither acknowledged nor dead
func (q *DatabaseQueue) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.QueueMessage{}).
		Where("topic = ? AND acked_at IS NULL AND dead_at IS NULL", q.opts.Topic).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}

// HealthCheck checks that the backing database answers
func (q *DatabaseQueue) HealthCheck(ctx context.Context) error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the database pool is owned by the caller
func (q *DatabaseQueue) Close() error {
	return nil
}
