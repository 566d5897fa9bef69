package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"arbitrage/internal/models"
)

func TestNewArbRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewArbRepository(db)
	if repo == nil {
		t.Fatal("NewArbRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestArbRepositoryLogMatchedPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	pair := &models.MatchedPair{
		Key:            "btc-2026-07-31t12:00",
		AssetTag:       "btc",
		ResolutionTime: now.Add(15 * time.Minute),
		VenueA:         models.Market{Venue: "kalshi", InstrumentID: "KXBTC15M-26JUL3112-T"},
		VenueB:         models.Market{Venue: "polymarket", InstrumentID: "cond1:yes1:no1"},
		CreatedAt:      now,
	}

	mock.ExpectExec(`INSERT INTO matched_pairs`).
		WithArgs(pair.Key, pair.AssetTag, pair.VenueA.Venue, pair.VenueA.InstrumentID,
			pair.VenueB.Venue, pair.VenueB.InstrumentID, pair.ResolutionTime, pair.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewArbRepository(db)
	if err := repo.LogMatchedPair(context.Background(), pair); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArbRepositoryLogOpportunity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	opp := &models.Opportunity{
		PairKey:     "btc-2026-07-31t12:00",
		Strategy:    models.StrategyYesAThenNoB,
		InstrumentA: "KXBTC15M-26JUL3112-T",
		InstrumentB: "cond1:yes1:no1",
		PriceA:      0.36,
		PriceB:      0.55,
		RawCost:     0.91,
		Fees:        0.0065,
		NetProfit:   0.0835,
		Timestamp:   now,
	}

	mock.ExpectExec(`INSERT INTO opportunities`).
		WithArgs(opp.PairKey, opp.Strategy.String(), opp.InstrumentA, opp.InstrumentB,
			opp.PriceA, opp.PriceB, opp.RawCost, opp.Fees, opp.NetProfit, true, "", opp.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewArbRepository(db)
	if err := repo.LogOpportunity(context.Background(), opp, true, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArbRepositoryLogOpportunityRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	opp := &models.Opportunity{PairKey: "k", Strategy: models.StrategyNoAThenYesB, Timestamp: time.Now()}

	mock.ExpectExec(`INSERT INTO opportunities`).
		WithArgs(opp.PairKey, opp.Strategy.String(), "", "", float64(0), float64(0), float64(0), float64(0), float64(0),
			false, "daily loss limit exceeded", opp.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewArbRepository(db)
	if err := repo.LogOpportunity(context.Background(), opp, false, "daily loss limit exceeded"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArbRepositoryLogTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	trade := &models.Trade{
		OpportunityKey: "btc-2026-07-31t12:00|BUY_YES_A_BUY_NO_B",
		Size:           10,
		LegA: models.LegFill{
			Venue: "kalshi", InstrumentID: "KXBTC15M-26JUL3112-T", Side: models.BuyYes,
			FilledSize: 10, AvgPrice: 0.36, Status: models.FillStatusFilled,
		},
		LegB: models.LegFill{
			Venue: "polymarket", InstrumentID: "cond1:yes1:no1", Side: models.BuyNo,
			FilledSize: 10, AvgPrice: 0.55, Status: models.FillStatusFilled,
		},
		RealizedCost: 0.91,
		RealizedFees: 0.0065,
		Unwound:      false,
		Timestamp:    now,
	}

	mock.ExpectExec(`INSERT INTO trades`).
		WithArgs(trade.OpportunityKey, trade.Size,
			trade.LegA.Venue, trade.LegA.InstrumentID, trade.LegA.Side, trade.LegA.FilledSize, trade.LegA.AvgPrice, trade.LegA.Status,
			trade.LegB.Venue, trade.LegB.InstrumentID, trade.LegB.Side, trade.LegB.FilledSize, trade.LegB.AvgPrice, trade.LegB.Status,
			trade.RealizedCost, trade.RealizedFees, trade.Unwound, sqlmock.AnyArg(), trade.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewArbRepository(db)
	if err := repo.LogTrade(context.Background(), trade); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArbRepositoryLogTradeWithUnwind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	trade := &models.Trade{
		OpportunityKey: "k",
		LegA:           models.LegFill{Status: models.FillStatusPartial},
		LegB:           models.LegFill{Status: models.FillStatusFilled},
		Unwound:        true,
		UnwindDetail: &models.UnwindRecord{
			ImbalancedLeg: models.BuyYes,
			Chosen:        "hedge",
			ChosenCost:    0.02,
		},
		Timestamp: time.Now(),
	}

	mock.ExpectExec(`INSERT INTO trades`).
		WithArgs(trade.OpportunityKey, trade.Size,
			trade.LegA.Venue, trade.LegA.InstrumentID, trade.LegA.Side, trade.LegA.FilledSize, trade.LegA.AvgPrice, trade.LegA.Status,
			trade.LegB.Venue, trade.LegB.InstrumentID, trade.LegB.Side, trade.LegB.FilledSize, trade.LegB.AvgPrice, trade.LegB.Status,
			trade.RealizedCost, trade.RealizedFees, trade.Unwound, sqlmock.AnyArg(), trade.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewArbRepository(db)
	if err := repo.LogTrade(context.Background(), trade); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArbRepositoryLogRiskState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	state := models.RiskState{
		Bankroll:           950,
		BankrollAtDayStart: 1000,
		DailyPnl:           -50,
		CurrentExposure:    120,
		KillSwitch:         true,
		KillSwitchReason:   "daily loss limit exceeded",
		LastResetDate:      "2026-07-31",
	}

	mock.ExpectExec(`INSERT INTO risk_states`).
		WithArgs(state.Bankroll, state.BankrollAtDayStart, state.DailyPnl, state.CurrentExposure,
			state.KillSwitch, state.KillSwitchReason, state.LastResetDate, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewArbRepository(db)
	if err := repo.LogRiskState(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArbRepositoryLogTradeError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	trade := &models.Trade{OpportunityKey: "k", Timestamp: time.Now()}

	mock.ExpectExec(`INSERT INTO trades`).
		WillReturnError(errors.New("connection reset"))

	repo := NewArbRepository(db)
	if err := repo.LogTrade(context.Background(), trade); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestArbRepositoryGetRecentTrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"opportunity_key", "size", "leg_a_venue", "leg_a_instrument", "leg_a_side", "leg_a_filled", "leg_a_avg_price", "leg_a_status",
		"leg_b_venue", "leg_b_instrument", "leg_b_side", "leg_b_filled", "leg_b_avg_price", "leg_b_status",
		"realized_cost", "realized_fees", "unwound", "executed_at",
	}).AddRow("k1", 5.0, "kalshi", "i1", "BUY_YES", 5.0, 0.4, "FILLED",
		"polymarket", "i2", "BUY_NO", 5.0, 0.55, "FILLED",
		0.95, 0.01, false, now)

	mock.ExpectQuery(`SELECT (.+) FROM trades`).WithArgs(10).WillReturnRows(rows)

	repo := NewArbRepository(db)
	trades, err := repo.GetRecentTrades(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].OpportunityKey != "k1" {
		t.Errorf("OpportunityKey: expected 'k1', got '%s'", trades[0].OpportunityKey)
	}
}
