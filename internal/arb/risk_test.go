package arb

import (
	"context"
	"testing"
	"time"
)

type fakeSyncer struct {
	balance float64
	err     error
}

func (f *fakeSyncer) GetBalance(ctx context.Context) (float64, error) {
	return f.balance, f.err
}

// Scenario 6: risk reject. bankroll = 10.99, max_risk_per_trade = 0.10,
// per-unit total_price = 1.15, size floor implies cost > 1.10 -> rejected.
func TestRiskManagerScenario6RiskReject(t *testing.T) {
	rm := NewRiskManager(RiskConfig{
		MaxRiskPerTrade: 0.10,
		MaxDailyLoss:    0.05,
		MaxNetExposure:  0.50,
	}, &fakeSyncer{}, 10.99)

	totalCost := 1.15 // cost at the floor-divided size, exceeds the 0.10*10.99 = 1.099 cap
	if rm.CanExecute(totalCost) {
		t.Fatal("expected CanExecute to reject a trade exceeding max_risk_per_trade")
	}
}

// Scenario 7: midnight reset. At 23:59:59 daily_pnl = -0.40, exposure = 0.80;
// first call at 00:00:01 the next day must see both zeroed before evaluating.
func TestRiskManagerScenario7MidnightReset(t *testing.T) {
	rm := NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 100)

	dayOne := time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC)
	rm.nowFn = func() time.Time { return dayOne }
	rm.state.LastResetDate = dayOne.Format("2006-01-02")
	rm.state.DailyPnl = -0.40
	rm.state.CurrentExposure = 0.80

	dayTwo := time.Date(2026, 8, 1, 0, 0, 1, 0, time.UTC)
	rm.nowFn = func() time.Time { return dayTwo }

	rm.CanExecute(0) // triggers checkDailyResetLocked via the gate entry point

	snap := rm.Snapshot()
	if snap.DailyPnl != 0 {
		t.Errorf("P4: expected daily_pnl == 0 after reset, got %v", snap.DailyPnl)
	}
	if snap.CurrentExposure != 0 {
		t.Errorf("P4: expected current_exposure == 0 after reset, got %v", snap.CurrentExposure)
	}
}

// P3: current_exposure never goes negative across any interleaving of
// register_trade and close_position.
func TestRiskManagerPropertyP3ExposureNeverNegative(t *testing.T) {
	rm := NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 1000)

	rm.RegisterTrade(5)
	rm.ClosePosition(5)
	rm.ClosePosition(5) // over-close past zero

	if rm.Snapshot().CurrentExposure < 0 {
		t.Errorf("P3 violated: current_exposure went negative: %v", rm.Snapshot().CurrentExposure)
	}
	if rm.Snapshot().CurrentExposure != 0 {
		t.Errorf("expected exposure clamped to 0, got %v", rm.Snapshot().CurrentExposure)
	}
}

// P5: no place_order path proceeds while the kill-switch is set; CanExecute
// must refuse unconditionally once triggered.
func TestRiskManagerPropertyP5KillSwitchBlocksExecution(t *testing.T) {
	rm := NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 1000)

	if !rm.CanExecute(1) {
		t.Fatal("expected CanExecute to allow a trade before kill switch")
	}

	rm.TriggerKillSwitch("daily loss limit exceeded")

	if rm.CanExecute(0.01) {
		t.Fatal("P5 violated: CanExecute allowed a trade while kill switch is set")
	}

	rm.ClearKillSwitch()
	if !rm.CanExecute(1) {
		t.Fatal("expected CanExecute to allow a trade after kill switch cleared")
	}
}

func TestRiskManagerSyncBalanceKeepsPreviousOnError(t *testing.T) {
	syncer := &fakeSyncer{err: context.DeadlineExceeded}
	rm := NewRiskManager(DefaultRiskConfig(), syncer, 500)

	rm.SyncBalance(context.Background())

	if rm.Snapshot().Bankroll != 500 {
		t.Errorf("expected bankroll unchanged on sync error, got %v", rm.Snapshot().Bankroll)
	}
}

func TestRiskManagerSyncBalanceUpdatesOnSuccess(t *testing.T) {
	syncer := &fakeSyncer{balance: 750}
	rm := NewRiskManager(DefaultRiskConfig(), syncer, 500)

	rm.SyncBalance(context.Background())

	if rm.Snapshot().Bankroll != 750 {
		t.Errorf("expected bankroll updated to 750, got %v", rm.Snapshot().Bankroll)
	}
}
