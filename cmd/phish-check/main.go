package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mikey/phishguard/internal/adapters/intake"
	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/di"
	"go.uber.org/zap"
)

func main() {
	flags, err := di.ParseFlags(os.Args[0], os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx := context.Background()
	container, err := di.BuildCLIContainer(ctx, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(
		logger *zap.Logger,
		reader *intake.CLIReader,
		svc *core.PhishingService,
		stores *store.Stores,
	) error {
		return run(ctx, flags, logger, reader, svc, stores)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	flags *di.CLIFlags,
	logger *zap.Logger,
	reader *intake.CLIReader,
	svc *core.PhishingService,
	stores *store.Stores,
) error {
	defer logger.Sync()
	defer stores.Close()

	email, err := reader.ReadFile(ctx, flags.InputFile, intake.Envelope{OwnerID: flags.Owner})
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}
	reader.PrintSummary(os.Stdout, email)

	start := time.Now()
	assessment, err := svc.Process(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to analyze email: %w", err)
	}

	stored, err := svc.Email(ctx, email.ID)
	if err != nil {
		return err
	}
	reader.PrintAssessment(os.Stdout, stored, assessment)
	fmt.Printf("Processing time: %v\n", time.Since(start))

	if !flags.Report {
		return nil
	}
	reports, err := svc.Report(ctx, email.ID, core.DispatchRequest{
		Language: flags.Language,
		Custom:   flags.ReportTo,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch reports: %w", err)
	}
	reader.PrintReports(os.Stdout, reports)
	return nil
}
