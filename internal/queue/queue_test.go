package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/photo-porter/internal/config"
	"github.com/vipul43/photo-porter/internal/testutil"
)

func TestDelivery_SettlesThroughCallbacks(t *testing.T) {
	var acked bool
	var nackCause error

	d := NewDelivery(Message{ID: "m1", Key: "k"},
		func(ctx context.Context) error { acked = true; return nil },
		func(ctx context.Context, cause error) error { nackCause = cause; return nil },
	)

	require.NoError(t, d.Ack(context.Background()))
	assert.True(t, acked)

	cause := errors.New("write failed")
	require.NoError(t, d.Nack(context.Background(), cause))
	assert.Equal(t, cause, nackCause)
}

func TestNewPublisherAndSubscriber_ByDriver(t *testing.T) {
	db := testutil.NewDB(t)

	cfg := config.Default()
	pub, err := NewPublisher(cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &DatabaseQueue{}, pub)

	sub, err := NewSubscriber(cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &DatabaseQueue{}, sub)

	cfg.QueueDriver = config.QueueDriverKafka
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}
	pub, err = NewPublisher(cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, pub)
	require.NoError(t, pub.Close())

	cfg.QueueDriver = "carrier-pigeon"
	_, err = NewPublisher(cfg, db)
	assert.Error(t, err)
	_, err = NewSubscriber(cfg, db)
	assert.Error(t, err)
}

func TestKafkaPublisher_HealthCheckUnreachable(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "photo-transfers", 0)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, p.HealthCheck(ctx))
}

func TestKafkaPublisher_MessageSizeLimit(t *testing.T) {
	var tooLarge kafka.MessageTooLargeError

	t.Run("payloads over 1 MiB pass the default limit", func(t *testing.T) {
		p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "photo-transfers", 0)
		defer p.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		// fails on the unreachable broker, not on the size check
		err := p.Publish(ctx, "k", make([]byte, 2<<20))
		require.Error(t, err)
		assert.False(t, errors.As(err, &tooLarge), "unexpected size rejection: %v", err)
	})

	t.Run("configured limit is enforced", func(t *testing.T) {
		p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "photo-transfers", 1024)
		defer p.Close()

		err := p.Publish(context.Background(), "k", make([]byte, 4096))
		require.Error(t, err)
		assert.True(t, errors.As(err, &tooLarge))
	})
}

func TestNewSubscriber_KafkaUsesConfiguredMaxBytes(t *testing.T) {
	cfg := config.Default()
	cfg.QueueDriver = config.QueueDriverKafka
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}
	cfg.KafkaMaxMessageBytes = 8 << 20

	sub, err := NewSubscriber(cfg, nil)
	require.NoError(t, err)
	ks, ok := sub.(*KafkaSubscriber)
	require.True(t, ok)
	defer ks.Close()

	assert.Equal(t, 8<<20, ks.reader.Config().MaxBytes)
	assert.Equal(t, int64(8<<20), ks.requeue.writer.BatchBytes)
}

func TestHeaderValue(t *testing.T) {
	headers := []kafka.Header{
		{Key: "trace", Value: []byte("t")},
		{Key: messageIDHeader, Value: []byte("msg-1")},
	}
	assert.Equal(t, "msg-1", headerValue(headers, messageIDHeader))
	assert.Equal(t, "", headerValue(headers, "missing"))
}
