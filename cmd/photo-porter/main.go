package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vipul43/photo-porter/internal/config"
	"github.com/vipul43/photo-porter/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "photo-porter",
		Short: "Copy photos between linked Google Photos accounts",
		Long: `photo-porter moves media items from one linked Google Photos account to
another, either synchronously through the HTTP API or through a queue
drained by consumer workers.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd())
	return root
}

// loadConfig reads configuration and installs the default logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if _, err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

// waitForShutdown blocks until a signal arrives or errChan yields. After a
// signal it calls stop and gives it ShutdownTimeout to return.
func waitForShutdown(cfg *config.Config, errChan <-chan error, stop func(ctx context.Context) error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Infof("Shutdown signal received: %s", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := stop(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Shutdown timeout exceeded")
			} else {
				log.Errorf("Shutdown error: %v", err)
			}
		}

		log.Info("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
