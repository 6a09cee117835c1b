package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gunlayer/broker/internal/config"
	"gunlayer/broker/internal/logging"
)

func main() {
	if err := start(); err != nil {
		fmt.Fprintf(os.Stderr, "gunlayer: %v\n", err)
		os.Exit(1)
	}
}

func start() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", logging.Error(err))
		return err
	}
	if err := a.run(ctx); err != nil {
		logger.Error("gunlayer stopped", logging.Error(err))
		return err
	}
	logger.Info("gunlayer stopped")
	return nil
}
