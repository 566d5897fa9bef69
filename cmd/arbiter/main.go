// Command arbiter запускает кросс-venue арбитражный движок: загружает
// конфигурацию, поднимает адаптеры площадок, сопоставляет каталоги,
// и драйвит Orchestrator (C8) до сигнала завершения.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/arb"
	"arbitrage/internal/config"
	"arbitrage/internal/models"
	"arbitrage/internal/repository"
	"arbitrage/internal/venue"
	"arbitrage/pkg/logging"

	_ "github.com/lib/pq"
)

// Коды выхода, см. spec §6 EXTERNAL INTERFACES.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitCredentialErr  = 2
	exitVenueError     = 3
	exitKillSwitchFire = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	log := logging.InitGlobalLogger(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithComponent("main")

	db, err := initDatabase(cfg)
	if err != nil {
		log.Error("failed to connect to database", logging.Err(err))
		return exitConfigError
	}
	defer db.Close()
	log.Info("connected to database")

	persist := repository.NewArbRepository(db)

	venueA, venueB, err := buildVenues(cfg)
	if err != nil {
		log.Error("failed to initialize venue adapters", logging.Err(err))
		return exitCredentialErr
	}
	defer venueA.Close()
	defer venueB.Close()

	matcher := arb.NewMatcher(arb.DefaultMatcherConfig())
	detector := arb.NewDetector(arb.DetectorConfig{
		MinProfit: cfg.Fees.MinProfit,
		EpsFee:    cfg.Fees.EpsFee,
		MemoTTL:   cfg.Cache.ArbCacheTTL,
	}, venue.FlatFee{PerUnit: cfg.Fees.KalshiPerUnit}, venue.ProportionalFee{Rate: cfg.Fees.PolymarketRate})

	cache := arb.NewOrderbookCache(cfg.Cache.OrderbookTTL)

	risk := arb.NewRiskManager(arb.RiskConfig{
		MaxRiskPerTrade:   cfg.Risk.MaxRiskPerTrade,
		MaxDailyLoss:      cfg.Risk.MaxDailyLoss,
		MaxNetExposure:    cfg.Risk.MaxNetExposure,
		BalanceSyncPeriod: cfg.Risk.BalanceSyncPeriod,
	}, venueA, initialBankroll(cfg, venueA))

	unwind := arb.NewUnwindPlanner(risk)

	coord := arb.NewExecutionCoordinator(cache, risk, unwind, map[models.Venue]venue.Venue{
		venueA.Name(): venueA,
		venueB.Name(): venueB,
	}, arb.ExecutionConfig{
		BookFetchTimeout:    cfg.Execution.BookFetchTimeout,
		BalanceMaxAge:       cfg.Execution.BalanceMaxAge,
		FillMonitorSchedule: cfg.Execution.FillMonitorSchedule,
	})

	orch := arb.NewOrchestrator(arb.OrchestratorConfig{
		MinTimeToResolution: cfg.Orchestrator.MinTimeToResolution,
		PriceBandLo:         cfg.Orchestrator.PriceBandLo,
		PriceBandHi:         cfg.Orchestrator.PriceBandHi,
		DedupeWindow:        cfg.Orchestrator.DedupeWindow,
		Cooldown:            cfg.Orchestrator.Cooldown,
		TradeSize:           cfg.Orchestrator.TradeSize,
		CatalogFilterA:      venue.CatalogFilter{SeriesPrefix: cfg.Orchestrator.KalshiSeriesPrefix, Status: "open"},
		CatalogFilterB:      venue.CatalogFilter{SeriesPrefix: cfg.Orchestrator.PolySeriesPrefix, Status: "open"},
	}, venueA, venueB, matcher, detector, coord, cache, risk, persist)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- orch.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runErr := error(nil)
	select {
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		runErr = <-errCh
	case runErr = <-errCh:
		cancel()
	}

	state := risk.Snapshot()
	flushRiskState(persist, state, log)

	if state.KillSwitch {
		log.Warn("exiting due to kill switch", zap.String("reason", state.KillSwitchReason))
		return exitKillSwitchFire
	}
	if runErr != nil {
		log.Error("orchestrator exited with error", logging.Err(runErr))
		return exitVenueError
	}

	log.Info("shutdown complete")
	return exitOK
}

// buildVenues инициализирует оба адаптера площадок из учётных данных конфигурации.
func buildVenues(cfg *config.Config) (venue.Venue, venue.Venue, error) {
	creds := venue.Credentials{
		KalshiAPIKeyID:   cfg.Credentials.KalshiAPIKeyID,
		KalshiPrivateKey: cfg.Credentials.KalshiPrivateKey,
		PolyAPIKey:       cfg.Credentials.PolyAPIKey,
		PolyAPISecret:    cfg.Credentials.PolyAPISecret,
		PolyPassphrase:   cfg.Credentials.PolyPassphrase,
	}

	venueA, err := venue.NewVenue("kalshi", cfg.Fees.KalshiPerUnit, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("kalshi adapter: %w", err)
	}
	venueB, err := venue.NewVenue("polymarket", cfg.Fees.PolymarketRate, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("polymarket adapter: %w", err)
	}
	return venueA, venueB, nil
}

// initialBankroll читает реальный баланс площадки-эталона в live-режиме
// (при ошибке чтения возвращает 0); в симуляции используется фиксированный
// стартовый капитал.
func initialBankroll(cfg *config.Config, v venue.Venue) float64 {
	if cfg.Simulation.Enabled {
		return 1000
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bal, err := v.GetBalance(ctx)
	if err != nil {
		return 0 // обновится первым тиком RunBalanceSyncer
	}
	return bal
}

// flushRiskState синхронно записывает финальный снимок риска перед выходом,
// см. shutdown-последовательность spec §6.
func flushRiskState(persist *repository.ArbRepository, state models.RiskState, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := persist.LogRiskState(ctx, state); err != nil {
		log.Error("failed to flush final risk state", logging.Err(err))
	}
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
