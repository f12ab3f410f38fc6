package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/phishguard/internal/di"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build the dependency injection container
	container, err := di.BuildContainer(ctx, *configFile)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(func(logger *zap.Logger, daemon *di.Daemon) error {
		return run(ctx, logger, daemon)
	}); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the daemon and blocks until a shutdown signal arrives
func run(ctx context.Context, logger *zap.Logger, daemon *di.Daemon) error {
	defer logger.Sync()

	if err := daemon.Start(ctx); err != nil {
		logger.Error("Failed to start", zap.Error(err))
		if stopErr := daemon.Stop(context.Background()); stopErr != nil {
			logger.Error("Failed to release resources", zap.Error(stopErr))
		}
		return err
	}
	logger.Info("PhishGuard started")

	<-ctx.Done()
	logger.Info("Shutting down...")

	// Shutdown gets a fresh context because ctx is already cancelled
	if err := daemon.Stop(context.Background()); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
