package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/queue"
	"github.com/vipul43/photo-porter/internal/repository"
	"github.com/vipul43/photo-porter/internal/testutil"
)

type mockGateway struct {
	getItemFunc   func(ctx context.Context, accessToken, itemID string) (*photos.MediaItem, error)
	listItemsFunc func(ctx context.Context, accessToken, albumID string) ([]photos.MediaItem, error)
	downloadFunc  func(ctx context.Context, item *photos.MediaItem) ([]byte, error)
	uploadFunc    func(ctx context.Context, accessToken string, data []byte, fileName string) (string, error)
	refreshFunc   func(ctx context.Context, refreshToken string) (*photos.TokenRefreshResult, error)
	exchangeFunc  func(ctx context.Context, code string) (*photos.IssuedCredential, error)

	refreshCalls int32
	mu           sync.Mutex
	uploadTokens []string
}

func (m *mockGateway) GetItem(ctx context.Context, accessToken, itemID string) (*photos.MediaItem, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, accessToken, itemID)
	}
	name := itemID + ".jpg"
	return &photos.MediaItem{ID: itemID, BaseURL: "https://media.example/" + itemID, Filename: &name}, nil
}

func (m *mockGateway) ListItems(ctx context.Context, accessToken, albumID string) ([]photos.MediaItem, error) {
	if m.listItemsFunc != nil {
		return m.listItemsFunc(ctx, accessToken, albumID)
	}
	return nil, nil
}

func (m *mockGateway) Download(ctx context.Context, item *photos.MediaItem) ([]byte, error) {
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx, item)
	}
	return []byte("bytes-" + item.ID), nil
}

func (m *mockGateway) Upload(ctx context.Context, accessToken string, data []byte, fileName string) (string, error) {
	m.mu.Lock()
	m.uploadTokens = append(m.uploadTokens, accessToken)
	m.mu.Unlock()
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, accessToken, data, fileName)
	}
	return "remote-" + strings.TrimSuffix(fileName, ".jpg"), nil
}

func (m *mockGateway) RefreshAccessToken(ctx context.Context, refreshToken string) (*photos.TokenRefreshResult, error) {
	atomic.AddInt32(&m.refreshCalls, 1)
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, refreshToken)
	}
	return &photos.TokenRefreshResult{AccessToken: "refreshed-" + refreshToken, TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (m *mockGateway) Exchange(ctx context.Context, code string) (*photos.IssuedCredential, error) {
	if m.exchangeFunc != nil {
		return m.exchangeFunc(ctx, code)
	}
	return nil, nil
}

func (m *mockGateway) refreshes() int {
	return int(atomic.LoadInt32(&m.refreshCalls))
}

func (m *mockGateway) uploadedWith() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploadTokens...)
}

type mockPublisher struct {
	mu          sync.Mutex
	keys        []string
	payloads    [][]byte
	publishFunc func(ctx context.Context, key string, payload []byte) error
}

func (m *mockPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	if m.publishFunc != nil {
		if err := m.publishFunc(ctx, key, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockPublisher) HealthCheck(ctx context.Context) error { return nil }
func (m *mockPublisher) Close() error                          { return nil }

var _ queue.Publisher = (*mockPublisher)(nil)

// fixture wires the services to an in-memory database and a mock gateway
type fixture struct {
	db        *gorm.DB
	gateway   *mockGateway
	publisher *mockPublisher
	accounts  *repository.AccountRepository
	creds     *repository.CredentialRepository
	records   *repository.TransferRecordRepository
	transfers *repository.TransferRepository
	logs      *repository.TransferLogRepository
	refresher *TokenRefresher
	producer  *TransferProducer
	svc       *TransferService
}

func newFixture(t *testing.T, opts TransferOptions) *fixture {
	t.Helper()

	f := &fixture{
		db:        testutil.NewDB(t),
		gateway:   &mockGateway{},
		publisher: &mockPublisher{},
	}
	f.accounts = repository.NewAccountRepository(f.db)
	f.creds = repository.NewCredentialRepository(f.db)
	f.records = repository.NewTransferRecordRepository(f.db)
	f.transfers = repository.NewTransferRepository(f.db)
	f.logs = repository.NewTransferLogRepository(f.db)
	f.refresher = NewTokenRefresher(f.creds, f.gateway, nil)
	f.producer = NewTransferProducer(f.gateway, f.publisher, nil, time.Second)

	if opts.CallTimeout == 0 {
		opts.CallTimeout = time.Second
	}
	f.svc = NewTransferService(f.accounts, f.creds, f.records, f.transfers, f.logs, f.gateway, f.refresher, f.producer, nil, opts)
	return f
}

// seedFresh creates an account whose token was issued just now
func (f *fixture) seedFresh(t *testing.T, email string) (*models.Account, *models.Credential) {
	return testutil.SeedAccount(t, f.db, email, time.Now().UTC(), 3600)
}

// seedStale creates an account whose token expired an hour ago
func (f *fixture) seedStale(t *testing.T, email string) (*models.Account, *models.Credential) {
	return testutil.SeedAccount(t, f.db, email, time.Now().UTC().Add(-2*time.Hour), 3600)
}

func (f *fixture) record(t *testing.T, id string) *models.TransferRecord {
	t.Helper()
	rec, err := f.records.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load record %s: %v", id, err)
	}
	return rec
}

func (f *fixture) recordCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&models.TransferRecord{}).Count(&n).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	return n
}
