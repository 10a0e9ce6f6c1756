// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"libracirc/internal/chaos"
	"libracirc/internal/clients"
	"libracirc/internal/config"
	"libracirc/internal/storage"
	"libracirc/internal/telemetry"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8082/api/v1", "base URL of the circulation API")
	flag.Parse()

	if err := run(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "chaos: %v\n", err)
		os.Exit(1)
	}
}

func run(apiURL string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := chaos.NewEngine(db, clients.NewTransport(apiURL), logger)
	engine.RegisterExperiments()

	results, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("game day aborted: %w", err)
	}

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
			logger.Error("experiment failed", "experiment", r.Experiment, "failures", r.Failures)
		}
	}
	logger.Info("game day finished", "experiments", len(results), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", failed, len(results))
	}
	return nil
}
