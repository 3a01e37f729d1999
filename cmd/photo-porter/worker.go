package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the queue consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start watcher in goroutine
	w := a.newWatcher()
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	return waitForShutdown(cfg, errChan, func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		case <-errChan:
			return nil
		}
	})
}
