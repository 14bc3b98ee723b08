// Command sweep resolves stale pending deposits against the payment processor.
// It runs one pass by default, or repeats every sweep.interval until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"social-wallet/config"
	"social-wallet/internal/adapter/gateway"
	pgStorage "social-wallet/internal/adapter/storage/postgres"
	"social-wallet/internal/service"
	"social-wallet/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Pretty), "sweep")
	if cfg.Storage.Driver == "memory" {
		log.Fatal().Msg("sweep requires postgres storage")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	store := pgStorage.NewStore(pool, log)
	recorder := service.NewEventRecorder(store.Events(), log)
	defer recorder.Wait()

	stripeGateway := gateway.NewStripe(cfg.Payment, &http.Client{Timeout: 15 * time.Second}, log)
	ledger := service.NewLedger(store, recorder, log)
	reconciler := service.NewReconciler(store, ledger, stripeGateway, nil, log)

	if cfg.Sweep.Interval <= 0 {
		if err := runPass(ctx, reconciler, cfg.Sweep, log); err != nil {
			log.Error().Err(err).Msg("sweep failed")
			recorder.Wait()
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()
	for {
		if err := runPass(ctx, reconciler, cfg.Sweep, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sweep pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("sweep stopped")
			return
		case <-ticker.C:
		}
	}
}

func runPass(ctx context.Context, r *service.Reconciler, cfg config.SweepConfig, log zerolog.Logger) error {
	started := time.Now()
	report, err := r.Sweep(ctx, cfg.OlderThan, cfg.BatchSize)
	if err != nil {
		return err
	}
	if report.Errors > 0 {
		log.Warn().Int("errors", report.Errors).Dur("elapsed", time.Since(started)).Msg("sweep pass left unresolved deposits")
		return nil
	}
	log.Debug().Dur("elapsed", time.Since(started)).Msg("sweep pass finished")
	return nil
}
