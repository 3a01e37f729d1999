package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vipul43/photo-porter/internal/api"
	"github.com/vipul43/photo-porter/internal/logging"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, and the queue consumers unless RUN_CONSUMERS=false",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func runServe(addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg, api.Dependencies{
		Transfers: a.transfers,
		Accounts:  a.accounts,
		Photos:    a.photos,
		Database:  a.db,
		Queue:     api.HealthCheckFunc(a.publisher.HealthCheck),
		Metrics:   a.metrics,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.StdLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	watcherDone := make(chan error, 1)
	if cfg.RunConsumers {
		w := a.newWatcher()
		go func() {
			err := w.Start(ctx)
			watcherDone <- err
			if err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}()
	} else {
		close(watcherDone)
	}

	return waitForShutdown(cfg, errChan, func(shutdownCtx context.Context) error {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		cancel()
		if err := server.Wait(shutdownCtx); err != nil {
			return err
		}
		select {
		case <-watcherDone:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})
}
