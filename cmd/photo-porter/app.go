package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/photo-porter/internal/config"
	"github.com/vipul43/photo-porter/internal/database"
	"github.com/vipul43/photo-porter/internal/metrics"
	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/queue"
	"github.com/vipul43/photo-porter/internal/repository"
	"github.com/vipul43/photo-porter/internal/service"
	"github.com/vipul43/photo-porter/internal/watcher"
)

// app holds everything serve and worker share
type app struct {
	cfg       *config.Config
	db        *database.DB
	publisher queue.Publisher
	photos    *photos.Client
	metrics   *metrics.Metrics
	records   *repository.TransferRecordRepository
	queued    *repository.TransferRepository
	transfers *service.TransferService
	accounts  *service.AccountService
	consumer  *service.TransferConsumer
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("Database connected successfully")

	log.Info("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Migrations completed successfully")

	publisher, err := queue.NewPublisher(cfg, db.DB)
	if err != nil {
		db.Close()
		return nil, err
	}

	callTimeout := time.Duration(cfg.RemoteCallTimeout) * time.Second
	m := metrics.NewMetrics("photo_porter")

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db.DB)
	credentialRepo := repository.NewCredentialRepository(db.DB)
	recordRepo := repository.NewTransferRecordRepository(db.DB)
	transferRepo := repository.NewTransferRepository(db.DB)
	logRepo := repository.NewTransferLogRepository(db.DB)

	// Initialize Photos client
	photosClient := photos.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret,
		photos.WithRedirectURL(cfg.GoogleRedirectURL),
		photos.WithRateLimit(cfg.PhotosRequestsPerSecond),
	)

	// Initialize services
	refresher := service.NewTokenRefresher(credentialRepo, photosClient, m)
	producer := service.NewTransferProducer(photosClient, publisher, m, callTimeout)
	transfers := service.NewTransferService(accountRepo, credentialRepo, recordRepo, transferRepo, logRepo,
		photosClient, refresher, producer, m, service.TransferOptions{
			CallTimeout: callTimeout,
			Concurrency: cfg.TransferConcurrency,
		})
	accounts := service.NewAccountService(accountRepo, credentialRepo, photosClient, refresher)
	consumer := service.NewTransferConsumer(transferRepo, logRepo, photosClient, accountRepo, credentialRepo, refresher, m,
		service.ConsumerOptions{
			CallTimeout:  callTimeout,
			RefreshToken: cfg.ConsumerRefreshToken,
		})

	return &app{
		cfg:       cfg,
		db:        db,
		publisher: publisher,
		photos:    photosClient,
		metrics:   m,
		records:   recordRepo,
		queued:    transferRepo,
		transfers: transfers,
		accounts:  accounts,
		consumer:  consumer,
	}, nil
}

// newWatcher builds the consumer pool; every worker opens its own subscriber
func (a *app) newWatcher() *watcher.Watcher {
	newSubscriber := func() (queue.Subscriber, error) {
		return queue.NewSubscriber(a.cfg, a.db.DB)
	}
	return watcher.New(a.cfg, newSubscriber, a.consumer, a.records, a.queued)
}

func (a *app) Close() error {
	var firstErr error
	if err := a.publisher.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close publisher: %w", err)
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}
	return firstErr
}
