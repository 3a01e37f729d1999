package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/photo-porter/internal/metrics"
	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/queue"
	"github.com/vipul43/photo-porter/internal/repository"
)

// ConsumerStore persists the records of queued transfers
type ConsumerStore interface {
	GetOrCreate(ctx context.Context, t *models.Transfer) (*models.Transfer, bool, error)
	Transition(ctx context.Context, id string, from, to models.TransferStatus, fields repository.TransitionFields) error
}

// Uploader stores bytes in the target library
type Uploader interface {
	Upload(ctx context.Context, accessToken string, data []byte, fileName string) (string, error)
}

type ConsumerOptions struct {
	CallTimeout time.Duration
	// RefreshToken re-resolves the target credential instead of trusting the
	// token embedded in the message
	RefreshToken bool
}

// TransferConsumer uploads one queued item per delivery
type TransferConsumer struct {
	transfers ConsumerStore
	logs      LogStore
	uploader  Uploader
	accounts  AccountStore
	creds     CredentialStore
	refresher *TokenRefresher
	metrics   *metrics.Metrics
	opts      ConsumerOptions
}

func NewTransferConsumer(
	transfers ConsumerStore,
	logs LogStore,
	uploader Uploader,
	accounts AccountStore,
	creds CredentialStore,
	refresher *TokenRefresher,
	m *metrics.Metrics,
	opts ConsumerOptions,
) *TransferConsumer {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	return &TransferConsumer{
		transfers: transfers,
		logs:      logs,
		uploader:  uploader,
		accounts:  accounts,
		creds:     creds,
		refresher: refresher,
		metrics:   m,
		opts:      opts,
	}
}

// Handle processes one delivery and settles it. The delivery is acknowledged
// only after the terminal status is stored; a failed write nacks it.
func (c *TransferConsumer) Handle(ctx context.Context, d *queue.Delivery) error {
	msg, err := models.DecodeTransferMessage(d.Payload)
	if err != nil {
		log.Errorf("Dropping malformed message %s: %v", d.ID, err)
		c.metrics.RecordQueueConsume("malformed")
		return d.Ack(ctx)
	}

	fileName := msg.FileName
	t, created, err := c.transfers.GetOrCreate(ctx, &models.Transfer{
		MessageID:       d.ID,
		SourceAccountID: msg.SourceAccountID,
		TargetAccountID: msg.TargetAccountID,
		ItemID:          msg.ItemID,
		FileName:        &fileName,
		Status:          models.StatusInProgress,
	})
	if err != nil {
		return c.nack(ctx, d, nil, err)
	}

	if !created {
		if t.Status.IsTerminal() {
			log.Infof("Message %s already completed as transfer %s (%s), acknowledging", d.ID, t.ID, t.Status)
			c.metrics.RecordQueueConsume("duplicate")
			return d.Ack(ctx)
		}
		log.Infof("Resuming transfer %s for redelivered message %s", t.ID, d.ID)
	} else {
		c.appendLog(ctx, t.ID, "transfer started", map[string]interface{}{"itemId": msg.ItemID, "messageId": d.ID})
	}

	start := time.Now()
	remoteID, uploadErr := c.upload(ctx, msg)

	writeCtx := context.WithoutCancel(ctx)
	if uploadErr != nil {
		log.Warnf("Queued transfer %s of item %s failed: %v", t.ID, msg.ItemID, uploadErr)
		errMsg := uploadErr.Error()
		err = c.transfers.Transition(writeCtx, t.ID, models.StatusInProgress, models.StatusFailed, repository.TransitionFields{
			ErrorMessage: &errMsg,
		})
		if err != nil {
			return c.nack(ctx, d, t, err)
		}
		c.appendLog(writeCtx, t.ID, "transfer failed", map[string]interface{}{"error": errMsg})
		c.metrics.RecordTransfer(PathQueue, models.StatusFailed.String(), time.Since(start).Seconds())
	} else {
		err = c.transfers.Transition(writeCtx, t.ID, models.StatusInProgress, models.StatusSuccess, repository.TransitionFields{
			RemoteItemID: &remoteID,
		})
		if err != nil {
			return c.nack(ctx, d, t, err)
		}
		c.appendLog(writeCtx, t.ID, "transfer completed", map[string]interface{}{"remoteItemId": remoteID})
		c.metrics.RecordTransfer(PathQueue, models.StatusSuccess.String(), time.Since(start).Seconds())
		log.Infof("Queued transfer %s stored item %s as %s", t.ID, msg.ItemID, remoteID)
	}

	if err := d.Ack(writeCtx); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.ID, err)
	}
	c.metrics.RecordQueueConsume("ack")
	return nil
}

func (c *TransferConsumer) upload(ctx context.Context, msg *models.TransferMessage) (string, error) {
	token := msg.TargetAccessToken
	if c.opts.RefreshToken {
		fresh, err := c.targetToken(ctx, msg.TargetAccountID)
		if err != nil {
			return "", err
		}
		token = fresh
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	remoteID, err := c.uploader.Upload(callCtx, token, msg.Data, msg.FileName)
	if err != nil {
		return "", &ItemTransferError{ItemID: msg.ItemID, Stage: "upload", Err: err}
	}
	return remoteID, nil
}

func (c *TransferConsumer) targetToken(ctx context.Context, accountID string) (string, error) {
	account, err := c.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", translate(err)
	}
	cred, err := c.creds.GetCurrent(ctx, accountID)
	if err != nil {
		return "", translate(err)
	}
	return c.refresher.EnsureFresh(ctx, account, cred)
}

// nack returns the delivery to the queue. When this was the last attempt no
// redelivery will settle t, so it is failed here.
func (c *TransferConsumer) nack(ctx context.Context, d *queue.Delivery, t *models.Transfer, cause error) error {
	log.Errorf("Returning message %s to the queue: %v", d.ID, cause)
	c.metrics.RecordQueueConsume("nack")
	writeCtx := context.WithoutCancel(ctx)
	if err := d.Nack(writeCtx, cause); err != nil {
		return fmt.Errorf("failed to nack message %s: %w (cause: %v)", d.ID, err, cause)
	}

	if d.Final && t != nil {
		errMsg := fmt.Sprintf("message dead-lettered after %d attempt(s): %v", d.Attempt, cause)
		err := c.transfers.Transition(writeCtx, t.ID, models.StatusInProgress, models.StatusFailed, repository.TransitionFields{
			ErrorMessage: &errMsg,
		})
		if err != nil {
			log.Warnf("Failed to fail transfer %s of dead-lettered message %s: %v", t.ID, d.ID, err)
		} else {
			c.appendLog(writeCtx, t.ID, "transfer failed", map[string]interface{}{"error": errMsg})
		}
	}
	return cause
}

func (c *TransferConsumer) appendLog(ctx context.Context, id, message string, details map[string]interface{}) {
	if err := c.logs.Append(ctx, id, message, details); err != nil {
		log.Warnf("Failed to write log for transfer %s: %v", id, err)
	}
}
