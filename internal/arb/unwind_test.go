package arb

import (
	"context"
	"testing"

	"arbitrage/internal/models"
)

// Scenario 4: partial fill + cancel path. Leg A fills 5/10; leg B rests at
// 0/10 and is still cancelable. Cancel succeeds and is chosen at cost 0.
// Plan records one chosen candidate only: the 5 filled units of leg A are
// not hedged or otherwise flattened by this plan.
func TestUnwindPlannerScenario4CancelChosenAtZeroCost(t *testing.T) {
	filledVenue := &fakeVenue{name: "kalshi", feePerUnit: 0.001}
	restingVenue := &fakeVenue{name: "polymarket"}

	planner := NewUnwindPlanner(NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 1000))

	im := imbalance{
		FilledVenue:      filledVenue,
		FilledMarket:     models.Market{InstrumentID: "KXBTC15M-26JUL3112-T"},
		FilledSide:       models.BuyYes,
		FilledQty:        5,
		RestingVenue:     restingVenue,
		RestingOrderID:   "resting-order-1",
		RestingStillOpen: true,
		UnderfilledQty:   10,
		OppositeSide:     models.BuyNo,
	}

	rec := planner.Plan(context.Background(), im)

	if rec.Chosen != "cancel" {
		t.Fatalf("expected cancel to be chosen (cost 0), got %q with candidates %+v", rec.Chosen, rec.Candidates)
	}
	if rec.ChosenCost != 0 {
		t.Errorf("expected cancel cost 0, got %v", rec.ChosenCost)
	}
	if len(restingVenue.canceled) != 1 || restingVenue.canceled[0] != "resting-order-1" {
		t.Errorf("expected CancelOrder called on the resting venue with the resting order id, got %+v", restingVenue.canceled)
	}
	if len(filledVenue.canceled) != 0 {
		t.Errorf("CancelOrder must not be called on the filled venue, got %+v", filledVenue.canceled)
	}
}

// Scenario 5: partial fill + aggressive exit. Leg A fills fully, leg B
// rejects. Hedge at opposite-side best-ask 0.45 costs 0.45*10+0.001*10=4.51;
// aggressive exit sweeping the best bid at 0.01 costs 0.01*10+0.001*10=0.11;
// planner must choose aggressive_exit as strictly cheaper.
func TestUnwindPlannerScenario5PrefersCheaperAggressiveExit(t *testing.T) {
	filledVenue := &fakeVenue{
		name:       "kalshi",
		feePerUnit: 0.001,
		book: &models.OrderbookSnapshot{
			Asks: []models.PriceLevel{{Price: 0.45, Size: 10}},
			Bids: []models.PriceLevel{{Price: 0.01, Size: 10}},
		},
	}
	restingVenue := &fakeVenue{name: "polymarket"}

	planner := NewUnwindPlanner(NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 1000))

	im := imbalance{
		FilledVenue:      filledVenue,
		FilledMarket:     models.Market{InstrumentID: "KXBTC15M-26JUL3112-T"},
		FilledSide:       models.BuyYes,
		FilledQty:        10,
		RestingVenue:     restingVenue,
		RestingOrderID:   "resting-order-2",
		RestingStillOpen: false, // B already rejected, not cancelable
		UnderfilledQty:   10,
		OppositeSide:     models.BuyNo,
	}

	rec := planner.Plan(context.Background(), im)

	if rec.Chosen != "aggressive_exit" {
		t.Fatalf("expected aggressive_exit to be chosen, got %q with candidates %+v", rec.Chosen, rec.Candidates)
	}
	wantCost := 0.01*10 + 0.001*10
	if diff := rec.ChosenCost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected chosen cost %v, got %v", wantCost, rec.ChosenCost)
	}

	var hedgeCandidate *models.UnwindCandidate
	for i := range rec.Candidates {
		if rec.Candidates[i].Name == "hedge" {
			hedgeCandidate = &rec.Candidates[i]
		}
	}
	if hedgeCandidate == nil || !hedgeCandidate.Feasible {
		t.Fatal("expected hedge to be evaluated as feasible")
	}
	wantHedgeCost := 0.45*10 + 0.001*10
	if diff := hedgeCandidate.Cost - wantHedgeCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected hedge cost %v, got %v", wantHedgeCost, hedgeCandidate.Cost)
	}
}

// No feasible candidate: kill switch must engage.
func TestUnwindPlannerNoFeasibleCandidateTriggersKillSwitch(t *testing.T) {
	filledVenue := &fakeVenue{name: "kalshi", bookErr: context.DeadlineExceeded}
	restingVenue := &fakeVenue{name: "polymarket", cancelErr: context.DeadlineExceeded}

	risk := NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 1000)
	planner := NewUnwindPlanner(risk)

	im := imbalance{
		FilledVenue:      filledVenue,
		RestingVenue:     restingVenue,
		RestingOrderID:   "r1",
		RestingStillOpen: true,
	}

	rec := planner.Plan(context.Background(), im)

	if !rec.KillSwitchHit {
		t.Fatal("expected KillSwitchHit when no candidate is feasible")
	}
	if !risk.Snapshot().KillSwitch {
		t.Fatal("expected RiskManager kill switch engaged")
	}
}
