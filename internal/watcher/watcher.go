package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/photo-porter/internal/config"
	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/queue"
)

const (
	sweepInterval = time.Minute
	sweepBatch    = 50

	interruptedMessage = "transfer interrupted before completion"
)

// Handler processes and settles one delivery
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) error
}

// StuckRecordStore finds and fails records abandoned IN_PROGRESS
type StuckRecordStore interface {
	GetStuckInProgress(ctx context.Context, cutoff time.Time, limit int) ([]models.TransferRecord, error)
	MarkFailed(ctx context.Context, id string, fileName, errMsg string) error
}

// StuckTransferStore finds and fails consumer transfers whose message will not
// be delivered again
type StuckTransferStore interface {
	GetStuckInProgress(ctx context.Context, cutoff time.Time, limit int) ([]models.Transfer, error)
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// SubscriberFactory opens a subscriber for one worker
type SubscriberFactory func() (queue.Subscriber, error)

type Watcher struct {
	workers       int
	pollInterval  time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
	newSubscriber SubscriberFactory
	handler       Handler
	records       StuckRecordStore
	transfers     StuckTransferStore
}

func New(cfg *config.Config, newSubscriber SubscriberFactory, handler Handler, records StuckRecordStore, transfers StuckTransferStore) *Watcher {
	return &Watcher{
		workers:       cfg.ConsumerWorkers,
		pollInterval:  time.Duration(cfg.PollInterval) * time.Second,
		sweepInterval: sweepInterval,
		staleAfter:    time.Duration(cfg.StaleTransferAfter) * time.Second,
		newSubscriber: newSubscriber,
		handler:       handler,
		records:       records,
		transfers:     transfers,
	}
}

// Start runs the consumer workers and the stuck transfer sweep until ctx is
// cancelled, then waits for in-flight messages and returns ctx.Err().
func (w *Watcher) Start(ctx context.Context) error {
	log.Infof("Starting watcher with %d consumer worker(s)...", w.workers)

	subscribers := make([]queue.Subscriber, 0, w.workers)
	for i := 0; i < w.workers; i++ {
		sub, err := w.newSubscriber()
		if err != nil {
			for _, s := range subscribers {
				s.Close()
			}
			return fmt.Errorf("failed to open subscriber: %w", err)
		}
		subscribers = append(subscribers, sub)
	}

	// Fail anything a previous run left behind
	if err := w.sweepStuckTransfers(ctx); err != nil {
		log.Warnf("Warning: failed to sweep stuck transfers on startup: %v", err)
	}

	var wg sync.WaitGroup
	for i, sub := range subscribers {
		wg.Add(1)
		go func(id int, sub queue.Subscriber) {
			defer wg.Done()
			w.runWorker(ctx, id, sub)
		}(i+1, sub)
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Watcher shutting down, waiting for workers...")
			wg.Wait()
			log.Info("Watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.sweepStuckTransfers(ctx); err != nil {
				log.Errorf("Error sweeping stuck transfers: %v", err)
			}
		}
	}
}

// runWorker keeps one message in flight at a time
func (w *Watcher) runWorker(ctx context.Context, id int, sub queue.Subscriber) {
	defer sub.Close()
	log.Debugf("Consumer worker %d started", id)

	for {
		if ctx.Err() != nil {
			return
		}

		d, err := sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, queue.ErrEmpty) {
				log.Errorf("Worker %d failed to fetch message: %v", id, err)
			}
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		if err := w.handler.Handle(ctx, d); err != nil {
			log.Errorf("Worker %d failed to handle message %s: %v", id, d.ID, err)
		}
	}
}

func (w *Watcher) sleep(ctx context.Context) bool {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sweepStuckTransfers fails records and consumer transfers left IN_PROGRESS
// longer than staleAfter. Records become retryable; a consumer transfer that old
// belongs to a message that was dead-lettered while the store was failing.
// Rows that moved on meanwhile are left alone.
func (w *Watcher) sweepStuckTransfers(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.staleAfter)
	recordErr := w.sweepStuckRecords(ctx, cutoff)
	if w.transfers == nil {
		return recordErr
	}
	return errors.Join(recordErr, w.sweepStuckQueued(ctx, cutoff))
}

func (w *Watcher) sweepStuckRecords(ctx context.Context, cutoff time.Time) error {
	stuck, err := w.records.GetStuckInProgress(ctx, cutoff, sweepBatch)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	log.Infof("Found %d transfer(s) stuck in progress", len(stuck))

	for _, rec := range stuck {
		fileName := ""
		if rec.FileName != nil {
			fileName = *rec.FileName
		}
		if err := w.records.MarkFailed(ctx, rec.ID, fileName, interruptedMessage); err != nil {
			log.Warnf("Failed to fail stuck transfer %s: %v", rec.ID, err)
			continue
		}
		log.Infof("Marked stuck transfer %s (item %s) as failed", rec.ID, rec.ItemID)
	}
	return nil
}

func (w *Watcher) sweepStuckQueued(ctx context.Context, cutoff time.Time) error {
	stuck, err := w.transfers.GetStuckInProgress(ctx, cutoff, sweepBatch)
	if err != nil {
		return err
	}

	for _, t := range stuck {
		if err := w.transfers.MarkFailed(ctx, t.ID, interruptedMessage); err != nil {
			log.Warnf("Failed to fail stuck queued transfer %s: %v", t.ID, err)
			continue
		}
		log.Infof("Marked stuck queued transfer %s (message %s) as failed", t.ID, t.MessageID)
	}
	return nil
}
