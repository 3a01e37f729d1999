package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/photo-porter/internal/metrics"
	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/repository"
)

const (
	PathSync  = "sync"
	PathRetry = "retry"
	PathQueue = "queue"
)

// AccountStore interface for dependency injection
type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	FindOrCreate(ctx context.Context, email string) (*models.Account, error)
}

// RecordStore persists the records of synchronous and retried transfers
type RecordStore interface {
	Create(ctx context.Context, rec *models.TransferRecord) error
	GetByID(ctx context.Context, id string) (*models.TransferRecord, error)
	ListForAccount(ctx context.Context, accountID string) ([]models.TransferRecord, error)
	MarkSucceeded(ctx context.Context, id string, fileName, remoteItemID string) error
	MarkFailed(ctx context.Context, id string, fileName, errMsg string) error
	ResetForRetry(ctx context.Context, id string) error
}

// QueuedStore reads the records written by queue consumers
type QueuedStore interface {
	GetByID(ctx context.Context, id string) (*models.Transfer, error)
	ListForAccount(ctx context.Context, accountID string) ([]models.Transfer, error)
}

// LogStore is the append-only stage trail of a transfer
type LogStore interface {
	Append(ctx context.Context, transferID, message string, details map[string]interface{}) error
	ListByTransfer(ctx context.Context, transferID string) ([]models.TransferLog, error)
}

// PhotoGateway is the part of the Photos client the orchestrator needs
type PhotoGateway interface {
	GetItem(ctx context.Context, accessToken, itemID string) (*photos.MediaItem, error)
	ListItems(ctx context.Context, accessToken, albumID string) ([]photos.MediaItem, error)
	Download(ctx context.Context, item *photos.MediaItem) ([]byte, error)
	Upload(ctx context.Context, accessToken string, data []byte, fileName string) (string, error)
}

// Enqueuer hands resolved items to the async path
type Enqueuer interface {
	Enqueue(ctx context.Context, source, target *models.Account, targetToken string, items []photos.MediaItem) (int, error)
}

// TransferRequest asks for items to be copied from one account to another
type TransferRequest struct {
	SourceEmail string
	TargetEmail string
	ItemIDs     []string
}

// BatchResult summarizes a finished batch
type BatchResult struct {
	RecordIDs []string
	Succeeded int
	Failed    int
}

type TransferOptions struct {
	// CallTimeout bounds every single remote call
	CallTimeout time.Duration
	// Concurrency is how many items of one batch run at once
	Concurrency int
}

type TransferService struct {
	accounts  AccountStore
	creds     CredentialStore
	records   RecordStore
	queued    QueuedStore
	logs      LogStore
	gateway   PhotoGateway
	refresher *TokenRefresher
	producer  Enqueuer
	metrics   *metrics.Metrics
	opts      TransferOptions
}

func NewTransferService(
	accounts AccountStore,
	creds CredentialStore,
	records RecordStore,
	queued QueuedStore,
	logs LogStore,
	gateway PhotoGateway,
	refresher *TokenRefresher,
	producer Enqueuer,
	m *metrics.Metrics,
	opts TransferOptions,
) *TransferService {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &TransferService{
		accounts:  accounts,
		creds:     creds,
		records:   records,
		queued:    queued,
		logs:      logs,
		gateway:   gateway,
		refresher: refresher,
		producer:  producer,
		metrics:   m,
		opts:      opts,
	}
}

// Batch is a validated transfer whose tokens are already fresh. Run does the work.
type Batch struct {
	svc         *TransferService
	path        string
	source      *models.Account
	target      *models.Account
	sourceToken string
	targetToken string
	itemIDs     []string
	retry       *models.TransferRecord
}

// Size is the number of items the batch will process
func (b *Batch) Size() int {
	if b.retry != nil {
		return 1
	}
	return len(b.itemIDs)
}

// Transfer validates the request and moves every item, one record per item.
// Item failures are recorded, not returned.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*BatchResult, error) {
	batch, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return batch.Run(ctx), nil
}

// Prepare validates the request, resolves both accounts and refreshes both tokens.
// Nothing is written to the record store.
func (s *TransferService) Prepare(ctx context.Context, req TransferRequest) (*Batch, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	source, target, sourceToken, targetToken, err := s.resolvePair(ctx, req.SourceEmail, req.TargetEmail)
	if err != nil {
		return nil, err
	}

	return &Batch{
		svc:         s,
		path:        PathSync,
		source:      source,
		target:      target,
		sourceToken: sourceToken,
		targetToken: targetToken,
		itemIDs:     req.ItemIDs,
	}, nil
}

// Run processes the batch's items. Each item succeeds or fails on its own.
func (b *Batch) Run(ctx context.Context) *BatchResult {
	s := b.svc
	result := &BatchResult{}

	if b.retry != nil {
		result.RecordIDs = []string{b.retry.ID}
		if err := s.runItem(ctx, b.path, b.retry, b.sourceToken, b.targetToken); err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
		return result
	}

	log.Infof("Transferring %d item(s) from %s to %s", len(b.itemIDs), b.source.Email, b.target.Email)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, itemID := range b.itemIDs {
		g.Go(func() error {
			rec := &models.TransferRecord{
				SourceAccountID: b.source.ID,
				TargetAccountID: b.target.ID,
				ItemID:          itemID,
				Status:          models.StatusInProgress,
			}
			if err := s.records.Create(gctx, rec); err != nil {
				log.Errorf("Failed to create transfer record for item %s: %v", itemID, err)
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}
			s.appendLog(gctx, rec.ID, "transfer started", map[string]interface{}{"itemId": itemID})

			err := s.runItem(gctx, b.path, rec, b.sourceToken, b.targetToken)

			mu.Lock()
			result.RecordIDs = append(result.RecordIDs, rec.ID)
			if err != nil {
				result.Failed++
			} else {
				result.Succeeded++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("Transfer batch from %s to %s finished: %d succeeded, %d failed",
		b.source.Email, b.target.Email, result.Succeeded, result.Failed)
	return result
}

// runItem moves one item for an IN_PROGRESS record and writes its terminal status
func (s *TransferService) runItem(ctx context.Context, path string, rec *models.TransferRecord, sourceToken, targetToken string) error {
	start := time.Now()
	fileName, remoteID, err := s.moveItem(ctx, rec.ItemID, sourceToken, targetToken, rec.ID)

	// the terminal write must land even when the caller is shutting down
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		log.Warnf("Transfer %s of item %s failed: %v", rec.ID, rec.ItemID, err)
		if markErr := s.records.MarkFailed(writeCtx, rec.ID, fileName, err.Error()); markErr != nil {
			log.Errorf("Failed to mark transfer %s failed: %v", rec.ID, markErr)
		}
		s.appendLog(writeCtx, rec.ID, "transfer failed", map[string]interface{}{"error": err.Error()})
		s.metrics.RecordTransfer(path, models.StatusFailed.String(), time.Since(start).Seconds())
		return err
	}

	if markErr := s.records.MarkSucceeded(writeCtx, rec.ID, fileName, remoteID); markErr != nil {
		log.Errorf("Failed to mark transfer %s succeeded: %v", rec.ID, markErr)
		return markErr
	}
	s.appendLog(writeCtx, rec.ID, "transfer completed", map[string]interface{}{"remoteItemId": remoteID, "fileName": fileName})
	s.metrics.RecordTransfer(path, models.StatusSuccess.String(), time.Since(start).Seconds())
	log.Infof("Transferred item %s as %s", rec.ItemID, remoteID)
	return nil
}

// moveItem runs metadata, download and upload for one item, each under its own timeout.
// fileName is returned even on failure once it is known.
func (s *TransferService) moveItem(ctx context.Context, itemID, sourceToken, targetToken, recordID string) (fileName, remoteID string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	item, err := s.gateway.GetItem(callCtx, sourceToken, itemID)
	cancel()
	if err != nil {
		return "", "", &ItemTransferError{ItemID: itemID, Stage: "metadata", Err: err}
	}
	fileName = item.FileName()

	callCtx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
	data, err := s.gateway.Download(callCtx, item)
	cancel()
	if err != nil {
		return fileName, "", &ItemTransferError{ItemID: itemID, Stage: "download", Err: err}
	}
	if len(data) == 0 {
		return fileName, "", &ItemTransferError{ItemID: itemID, Stage: "download", Err: photos.ErrEmptyDownload}
	}
	s.appendLog(ctx, recordID, "downloaded", map[string]interface{}{"bytes": len(data), "fileName": fileName})

	callCtx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
	remoteID, err = s.gateway.Upload(callCtx, targetToken, data, fileName)
	cancel()
	if err != nil {
		return fileName, "", &ItemTransferError{ItemID: itemID, Stage: "upload", Err: err}
	}
	return fileName, remoteID, nil
}

// ListForUser returns every record where the account is source or target, newest first
func (s *TransferService) ListForUser(ctx context.Context, email string) ([]models.TransferRecord, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, translate(err)
	}
	records, err := s.records.ListForAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListQueuedForUser returns the consumer-side records of an account, newest first
func (s *TransferService) ListQueuedForUser(ctx context.Context, email string) ([]models.Transfer, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, translate(err)
	}
	transfers, err := s.queued.ListForAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// GetByID returns one record
func (s *TransferService) GetByID(ctx context.Context, id string) (*models.TransferRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return rec, nil
}

// Logs returns the stage trail of a record or a consumer transfer, oldest first
func (s *TransferService) Logs(ctx context.Context, id string) ([]models.TransferLog, error) {
	if _, err := s.records.GetByID(ctx, id); err != nil {
		if !errors.Is(err, repository.ErrTransferNotFound) {
			return nil, err
		}
		if _, err := s.queued.GetByID(ctx, id); err != nil {
			return nil, translate(err)
		}
	}
	return s.logs.ListByTransfer(ctx, id)
}

// Retry re-runs a FAILED record in place
func (s *TransferService) Retry(ctx context.Context, id string) (*BatchResult, error) {
	batch, err := s.PrepareRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	return batch.Run(ctx), nil
}

// PrepareRetry moves a FAILED record back to IN_PROGRESS and refreshes both tokens.
// Any other status is ErrInvalidState and nothing is written.
func (s *TransferService) PrepareRetry(ctx context.Context, id string) (*Batch, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if rec.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, id, rec.Status)
	}

	source, sourceCred, err := s.accountWithCredential(ctx, rec.SourceAccountID)
	if err != nil {
		return nil, err
	}
	target, targetCred, err := s.accountWithCredential(ctx, rec.TargetAccountID)
	if err != nil {
		return nil, err
	}

	if err := s.records.ResetForRetry(ctx, id); err != nil {
		return nil, translate(err)
	}
	s.appendLog(ctx, id, "retry initiated", map[string]interface{}{"attempt": rec.Attempts + 1})

	sourceToken, err := s.refresher.EnsureFresh(ctx, source, sourceCred)
	if err == nil {
		var targetToken string
		targetToken, err = s.refresher.EnsureFresh(ctx, target, targetCred)
		if err == nil {
			rec.Status = models.StatusInProgress
			rec.Attempts++
			rec.ErrorMessage = nil
			rec.CompletedAt = nil
			return &Batch{
				svc:         s,
				path:        PathRetry,
				source:      source,
				target:      target,
				sourceToken: sourceToken,
				targetToken: targetToken,
				retry:       rec,
			}, nil
		}
	}

	fileName := ""
	if rec.FileName != nil {
		fileName = *rec.FileName
	}
	if markErr := s.records.MarkFailed(context.WithoutCancel(ctx), id, fileName, err.Error()); markErr != nil {
		log.Errorf("Failed to mark transfer %s failed after refresh error: %v", id, markErr)
	}
	s.appendLog(ctx, id, "retry aborted", map[string]interface{}{"error": err.Error()})
	return nil, err
}

// Queue validates the request, resolves every item and hands them to the producer.
// Items that cannot be resolved are logged and skipped.
func (s *TransferService) Queue(ctx context.Context, req TransferRequest) (int, error) {
	if err := validateRequest(req); err != nil {
		return 0, err
	}

	source, target, sourceToken, targetToken, err := s.resolvePair(ctx, req.SourceEmail, req.TargetEmail)
	if err != nil {
		return 0, err
	}

	items := make([]photos.MediaItem, 0, len(req.ItemIDs))
	for _, itemID := range req.ItemIDs {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		item, err := s.gateway.GetItem(callCtx, sourceToken, itemID)
		cancel()
		if err != nil {
			log.Warnf("Skipping item %s: %v", itemID, err)
			continue
		}
		items = append(items, *item)
	}

	return s.producer.Enqueue(ctx, source, target, targetToken, items)
}

// QueueAlbum enqueues every item of a source album
func (s *TransferService) QueueAlbum(ctx context.Context, sourceEmail, targetEmail, albumID string) (int, error) {
	if err := validateEmails(sourceEmail, targetEmail); err != nil {
		return 0, err
	}
	if strings.TrimSpace(albumID) == "" {
		return 0, &ValidationError{Field: "albumId", Reason: "must not be empty"}
	}

	source, target, sourceToken, targetToken, err := s.resolvePair(ctx, sourceEmail, targetEmail)
	if err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	items, err := s.gateway.ListItems(callCtx, sourceToken, albumID)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list album %s: %w", albumID, err)
	}

	log.Infof("Queueing %d item(s) of album %s from %s to %s", len(items), albumID, source.Email, target.Email)
	return s.producer.Enqueue(ctx, source, target, targetToken, items)
}

// resolvePair loads both accounts and credentials before refreshing either token,
// so a missing account never costs a refresh.
func (s *TransferService) resolvePair(ctx context.Context, sourceEmail, targetEmail string) (source, target *models.Account, sourceToken, targetToken string, err error) {
	source, sourceCred, err := s.accountByEmail(ctx, sourceEmail)
	if err != nil {
		return nil, nil, "", "", err
	}
	target, targetCred, err := s.accountByEmail(ctx, targetEmail)
	if err != nil {
		return nil, nil, "", "", err
	}

	sourceToken, err = s.refresher.EnsureFresh(ctx, source, sourceCred)
	if err != nil {
		return nil, nil, "", "", err
	}
	targetToken, err = s.refresher.EnsureFresh(ctx, target, targetCred)
	if err != nil {
		return nil, nil, "", "", err
	}
	return source, target, sourceToken, targetToken, nil
}

func (s *TransferService) accountByEmail(ctx context.Context, email string) (*models.Account, *models.Credential, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", translate(err), email)
	}
	cred, err := s.creds.GetCurrent(ctx, account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", translate(err), email)
	}
	return account, cred, nil
}

func (s *TransferService) accountWithCredential(ctx context.Context, accountID string) (*models.Account, *models.Credential, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, nil, translate(err)
	}
	cred, err := s.creds.GetCurrent(ctx, account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", translate(err), account.Email)
	}
	return account, cred, nil
}

func (s *TransferService) appendLog(ctx context.Context, id, message string, details map[string]interface{}) {
	if err := s.logs.Append(ctx, id, message, details); err != nil {
		log.Warnf("Failed to write log for transfer %s: %v", id, err)
	}
}

func validateRequest(req TransferRequest) error {
	if err := validateEmails(req.SourceEmail, req.TargetEmail); err != nil {
		return err
	}
	if len(req.ItemIDs) == 0 {
		return &ValidationError{Field: "itemIds", Reason: "must not be empty"}
	}
	for i, id := range req.ItemIDs {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "itemIds", Reason: fmt.Sprintf("entry %d is blank", i)}
		}
	}
	return nil
}

func validateEmails(source, target string) error {
	if !validEmail(source) {
		return &ValidationError{Field: "sourceEmail", Reason: "must be a valid email address"}
	}
	if !validEmail(target) {
		return &ValidationError{Field: "targetEmail", Reason: "must be a valid email address"}
	}
	return nil
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
