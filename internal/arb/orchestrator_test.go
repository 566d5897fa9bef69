package arb

import (
	"context"
	"sync"
	"testing"
	"time"

	"arbitrage/internal/models"
	"arbitrage/internal/venue"
)

type loggedOpportunity struct {
	opp      *models.Opportunity
	accepted bool
	reason   string
}

// fakePersist records calls instead of touching a database, mirroring the
// teacher's in-package mock style for the repository layer.
type fakePersist struct {
	mu      sync.Mutex
	pairs   []*models.MatchedPair
	opps    []loggedOpportunity
	trades  []*models.Trade
	states  []models.RiskState
}

func (f *fakePersist) LogMatchedPair(ctx context.Context, p *models.MatchedPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, p)
	return nil
}

func (f *fakePersist) LogOpportunity(ctx context.Context, o *models.Opportunity, accepted bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opps = append(f.opps, loggedOpportunity{opp: o, accepted: accepted, reason: reason})
	return nil
}

func (f *fakePersist) LogTrade(ctx context.Context, t *models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakePersist) LogRiskState(ctx context.Context, s models.RiskState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return nil
}

func (f *fakePersist) opportunityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opps)
}

func newTestOrchestrator(persist *fakePersist) (*Orchestrator, *models.MatchedPair) {
	venueA := &fakeVenue{name: "kalshi"}
	venueB := &fakeVenue{name: "polymarket"}

	matcher := NewMatcher(DefaultMatcherConfig())
	detector := NewDetector(DefaultDetectorConfig(), venue.FlatFee{PerUnit: 0.001}, venue.ProportionalFee{Rate: 0.01})
	cache := NewOrderbookCache(500 * time.Millisecond)
	risk := NewRiskManager(DefaultRiskConfig(), &fakeSyncer{}, 1000)
	unwind := NewUnwindPlanner(risk)
	coord := NewExecutionCoordinator(cache, risk, unwind, map[models.Venue]venue.Venue{
		"kalshi":     venueA,
		"polymarket": venueB,
	}, DefaultExecutionConfig())

	o := NewOrchestrator(DefaultOrchestratorConfig(), venueA, venueB, matcher, detector, coord, cache, risk, persist)

	pair := &models.MatchedPair{
		Key:            "btc-15m|kalshi:i1|polymarket:i2",
		ResolutionTime: time.Now().Add(10 * time.Minute),
		VenueA:         models.Market{Venue: "kalshi", InstrumentID: "i1", YesPrice: 0.36, NoPrice: 0.58},
		VenueB:         models.Market{Venue: "polymarket", InstrumentID: "i2", YesPrice: 0.55, NoPrice: 0.44},
	}
	o.pairs[pair.Key] = pair
	return o, pair
}

// P7: while a cooldown is active, onUpdate must not touch the detector or
// execution path for any instrument.
func TestOrchestratorCooldownBlocksUpdates(t *testing.T) {
	persist := &fakePersist{}
	o, pair := newTestOrchestrator(persist)
	o.focus.CooldownUntil = time.Now().Add(30 * time.Second)

	o.onUpdate(pair.VenueA.InstrumentID, &models.OrderbookSnapshot{InstrumentID: pair.VenueA.InstrumentID, Venue: "kalshi"})

	if persist.opportunityCount() != 0 {
		t.Fatalf("expected no opportunity evaluation during cooldown, got %d", persist.opportunityCount())
	}
}

// Sticky-pair: once focus locks onto one pair, updates belonging to any
// other discovered pair are dropped without evaluation.
func TestOrchestratorStickyPolicyDropsOtherPairUpdates(t *testing.T) {
	persist := &fakePersist{}
	o, pair := newTestOrchestrator(persist)

	other := &models.MatchedPair{
		Key:            "eth-15m|kalshi:i3|polymarket:i4",
		ResolutionTime: time.Now().Add(10 * time.Minute),
		VenueA:         models.Market{Venue: "kalshi", InstrumentID: "i3", YesPrice: 0.2, NoPrice: 0.7},
		VenueB:         models.Market{Venue: "polymarket", InstrumentID: "i4", YesPrice: 0.2, NoPrice: 0.7},
	}
	o.pairs[other.Key] = other
	o.focus.Pair = pair

	o.onUpdate(other.VenueA.InstrumentID, &models.OrderbookSnapshot{InstrumentID: other.VenueA.InstrumentID, Venue: "kalshi"})

	if persist.opportunityCount() != 0 {
		t.Fatalf("expected update for non-focused pair to be dropped, got %d opportunity logs", persist.opportunityCount())
	}
	if o.focus.Pair.Key != pair.Key {
		t.Fatal("expected focus to remain on the originally-locked pair")
	}
}

// passesFilters: price band excludes markets trading outside [0.10, 0.90].
func TestOrchestratorPassesFiltersPriceBand(t *testing.T) {
	o, pair := newTestOrchestrator(&fakePersist{})
	if !o.passesFilters(pair) {
		t.Fatal("expected default fixture pair to pass the price band filter")
	}

	pair.VenueA.YesPrice = 0.05
	if o.passesFilters(pair) {
		t.Fatal("expected price below band floor to fail the filter")
	}
}

// passesFilters: markets resolving sooner than MinTimeToResolution are excluded.
func TestOrchestratorPassesFiltersTimeToResolution(t *testing.T) {
	o, pair := newTestOrchestrator(&fakePersist{})
	pair.ResolutionTime = time.Now().Add(5 * time.Second)
	if o.passesFilters(pair) {
		t.Fatal("expected a pair resolving in 5s to fail the min-time-to-resolution filter")
	}
}

// Dedupe window: a (pair_key, strategy) already traded inside DedupeWindow
// must be rejected before execution is attempted again.
func TestOrchestratorDedupeWindowRejectsRepeat(t *testing.T) {
	persist := &fakePersist{}
	o, pair := newTestOrchestrator(persist)

	opp := o.detector.Evaluate(pair, o.cfg.TradeSize)
	if opp == nil {
		t.Fatal("fixture pair must yield a profitable opportunity for this test to be meaningful")
	}
	o.lastTradeKeys[opp.Key()] = time.Now()

	o.evaluateAndMaybeExecute(pair)

	if persist.opportunityCount() != 1 {
		t.Fatalf("expected exactly one opportunity log (the dedupe rejection), got %d", persist.opportunityCount())
	}
	logged := persist.opps[0]
	if logged.accepted {
		t.Fatal("expected deduped opportunity to be logged as rejected")
	}
	if logged.reason != "deduped within window" {
		t.Errorf("expected dedupe rejection reason, got %q", logged.reason)
	}
}
