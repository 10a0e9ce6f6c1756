// cmd/circulation/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libracirc/internal/catalog"
	"libracirc/internal/circulation"
	"libracirc/internal/config"
	"libracirc/internal/eventstore"
	"libracirc/internal/membership"
	"libracirc/internal/server"
	"libracirc/internal/storage"
	"libracirc/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "circulation: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	journal := eventstore.NewEventStore(eventstore.WithTracerProvider(providers.TracerProvider))
	items := catalog.NewService(journal, db)
	members := membership.NewService(journal, db)
	engine, err := circulation.NewEngine(db, items, members, journal,
		circulation.WithPolicy(cfg.Circulation),
		circulation.WithLogger(logger),
		circulation.WithTracerProvider(providers.TracerProvider),
		circulation.WithMeterProvider(providers.MeterProvider),
	)
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Options{
		Logger:         logger,
		Metrics:        providers.HTTP.Middleware,
		MetricsHandler: providers.MetricsHandler(),
		Health:         db.PingContext,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	},
		catalog.NewHandler(items),
		membership.NewHandler(members),
		circulation.NewHandler(engine),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("starting circulation service",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"loan_period_days", cfg.Circulation.LoanPeriodDays,
	)
	return server.Serve(ctx, srv, logger)
}
