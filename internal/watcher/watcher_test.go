package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/photo-porter/internal/config"
	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/queue"
	"github.com/vipul43/photo-porter/internal/repository"
	"github.com/vipul43/photo-porter/internal/testutil"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	messages []queue.Message
	acked    *[]string
	closed   bool
}

func (s *fakeSubscriber) Fetch(ctx context.Context) (*queue.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil, queue.ErrEmpty
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return queue.NewDelivery(msg,
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			*s.acked = append(*s.acked, msg.ID)
			return nil
		},
		func(ctx context.Context, cause error) error { return nil },
	), nil
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type ackingHandler struct {
	mu      sync.Mutex
	handled []string
	err     error
}

func (h *ackingHandler) Handle(ctx context.Context, d *queue.Delivery) error {
	h.mu.Lock()
	h.handled = append(h.handled, d.ID)
	h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	return d.Ack(ctx)
}

func (h *ackingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

type emptyRecords struct{}

func (emptyRecords) GetStuckInProgress(ctx context.Context, cutoff time.Time, limit int) ([]models.TransferRecord, error) {
	return nil, nil
}

func (emptyRecords) MarkFailed(ctx context.Context, id string, fileName, errMsg string) error {
	return nil
}

func testConfig(workers int) *config.Config {
	cfg := config.Default()
	cfg.ConsumerWorkers = workers
	return cfg
}

func newTestWatcher(cfg *config.Config, factory SubscriberFactory, h Handler, records StuckRecordStore) *Watcher {
	w := New(cfg, factory, h, records, nil)
	w.pollInterval = 5 * time.Millisecond
	w.sweepInterval = 10 * time.Millisecond
	return w
}

func TestWatcher_DrainsSubscriberAndStops(t *testing.T) {
	var acked []string
	sub := &fakeSubscriber{
		messages: []queue.Message{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}},
		acked:    &acked,
	}
	h := &ackingHandler{}
	w := newTestWatcher(testConfig(1), func() (queue.Subscriber, error) { return sub, nil }, h, emptyRecords{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return h.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []string{"m1", "m2", "m3"}, acked)
	assert.True(t, sub.closed)
}

func TestWatcher_HandlerErrorsDoNotStopWorker(t *testing.T) {
	var acked []string
	sub := &fakeSubscriber{messages: []queue.Message{{ID: "m1"}, {ID: "m2"}}, acked: &acked}
	h := &ackingHandler{err: errors.New("boom")}
	w := newTestWatcher(testConfig(1), func() (queue.Subscriber, error) { return sub, nil }, h, emptyRecords{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_OneSubscriberPerWorker(t *testing.T) {
	var mu sync.Mutex
	opened := 0
	factory := func() (queue.Subscriber, error) {
		mu.Lock()
		defer mu.Unlock()
		opened++
		var acked []string
		return &fakeSubscriber{acked: &acked}, nil
	}
	w := newTestWatcher(testConfig(3), factory, &ackingHandler{}, emptyRecords{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, opened)
}

func TestWatcher_SubscriberFactoryError(t *testing.T) {
	var acked []string
	first := &fakeSubscriber{acked: &acked}
	calls := 0
	factory := func() (queue.Subscriber, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		return nil, errors.New("broker down")
	}
	w := newTestWatcher(testConfig(2), factory, &ackingHandler{}, emptyRecords{})

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.True(t, first.closed, "already opened subscribers are closed")
}

func TestWatcher_SweepFailsStuckTransfers(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTransferRecordRepository(db)
	ctx := context.Background()

	stuck := &models.TransferRecord{SourceAccountID: "a", TargetAccountID: "b", ItemID: "old", Status: models.StatusInProgress}
	fresh := &models.TransferRecord{SourceAccountID: "a", TargetAccountID: "b", ItemID: "new", Status: models.StatusInProgress}
	require.NoError(t, repo.Create(ctx, stuck))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, db.Exec("UPDATE transfer_record SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Add(-2*time.Hour), stuck.ID).Error)

	cfg := testConfig(1)
	cfg.StaleTransferAfter = 3600
	w := newTestWatcher(cfg, nil, &ackingHandler{}, repo)

	require.NoError(t, w.sweepStuckTransfers(ctx))

	got, err := repo.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, interruptedMessage, *got.ErrorMessage)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestWatcher_SweepFailsStuckQueuedTransfers(t *testing.T) {
	db := testutil.NewDB(t)
	records := repository.NewTransferRecordRepository(db)
	transfers := repository.NewTransferRepository(db)
	ctx := context.Background()

	stuck, _, err := transfers.GetOrCreate(ctx, &models.Transfer{MessageID: "dead-1", SourceAccountID: "a", TargetAccountID: "b", ItemID: "old"})
	require.NoError(t, err)
	fresh, _, err := transfers.GetOrCreate(ctx, &models.Transfer{MessageID: "live-1", SourceAccountID: "a", TargetAccountID: "b", ItemID: "new"})
	require.NoError(t, err)
	require.NoError(t, db.Exec("UPDATE transfer SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Add(-2*time.Hour), stuck.ID).Error)

	cfg := testConfig(1)
	cfg.StaleTransferAfter = 3600
	w := New(cfg, nil, &ackingHandler{}, records, transfers)

	require.NoError(t, w.sweepStuckTransfers(ctx))

	got, err := transfers.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, interruptedMessage, *got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	got, err = transfers.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}
