package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/photo-porter/internal/metrics"
	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/queue"
)

// Downloader fetches item bytes through their pre-authorized base URL
type Downloader interface {
	Download(ctx context.Context, item *photos.MediaItem) ([]byte, error)
}

// TransferProducer downloads items eagerly and publishes one message per item
type TransferProducer struct {
	downloader  Downloader
	publisher   queue.Publisher
	metrics     *metrics.Metrics
	callTimeout time.Duration
}

func NewTransferProducer(downloader Downloader, publisher queue.Publisher, m *metrics.Metrics, callTimeout time.Duration) *TransferProducer {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &TransferProducer{
		downloader:  downloader,
		publisher:   publisher,
		metrics:     m,
		callTimeout: callTimeout,
	}
}

// Enqueue publishes one message per item keyed by item id and returns how many
// were published. A failing item is logged and skipped.
func (p *TransferProducer) Enqueue(ctx context.Context, source, target *models.Account, targetToken string, items []photos.MediaItem) (int, error) {
	published := 0
	for i := range items {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		item := &items[i]
		if err := p.enqueueItem(ctx, source, target, targetToken, item); err != nil {
			p.metrics.RecordQueuePublish("failure")
			log.Errorf("Failed to enqueue item %s: %v", item.ID, err)
			continue
		}
		p.metrics.RecordQueuePublish("success")
		published++
	}

	log.Infof("Enqueued %d of %d item(s) from %s to %s", published, len(items), source.Email, target.Email)
	return published, nil
}

func (p *TransferProducer) enqueueItem(ctx context.Context, source, target *models.Account, targetToken string, item *photos.MediaItem) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	data, err := p.downloader.Download(callCtx, item)
	cancel()
	if err != nil {
		return &ItemTransferError{ItemID: item.ID, Stage: "download", Err: err}
	}
	if len(data) == 0 {
		return &ItemTransferError{ItemID: item.ID, Stage: "download", Err: photos.ErrEmptyDownload}
	}

	msg := models.TransferMessage{
		ItemID:            item.ID,
		FileName:          item.FileName(),
		Data:              data,
		SourceAccountID:   source.ID,
		TargetAccountID:   target.ID,
		TargetAccessToken: targetToken,
		EnqueuedAt:        time.Now().UTC(),
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, item.ID, payload); err != nil {
		return &ItemTransferError{ItemID: item.ID, Stage: "publish", Err: err}
	}
	return nil
}
