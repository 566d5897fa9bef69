package arb

import (
	"context"
	"sync"
	"time"

	"arbitrage/internal/models"
	"arbitrage/internal/venue"
	"arbitrage/pkg/logging"
)

// OrchestratorConfig — политика sticky-pair/cooldown/фильтров, spec §4.8.
type OrchestratorConfig struct {
	MinTimeToResolution time.Duration // 60s
	PriceBandLo         float64       // 0.10
	PriceBandHi         float64       // 0.90
	DedupeWindow        time.Duration // 15s
	Cooldown            time.Duration // 60s
	TradeSize           float64
	CatalogFilterA      venue.CatalogFilter
	CatalogFilterB      venue.CatalogFilter
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MinTimeToResolution: 60 * time.Second,
		PriceBandLo:         0.10,
		PriceBandHi:         0.90,
		DedupeWindow:        15 * time.Second,
		Cooldown:            60 * time.Second,
		TradeSize:           1,
	}
}

// Orchestrator — C8: подписывается на push-потоки сопоставленных пар,
// применяет sticky-market и cooldown-политику, вызывает детектор и координатор.
// Смоделирован непосредственно по исходному Engine в internal/bot/engine.go:
// долгоживущий цикл Run(ctx), штатное завершение через отмену контекста.
type Orchestrator struct {
	cfg       OrchestratorConfig
	venueA    venue.Venue
	venueB    venue.Venue
	matcher   *Matcher
	detector  *Detector
	coord     *ExecutionCoordinator
	cache     *OrderbookCache
	risk      *RiskManager
	persist   PersistencePort

	mu            sync.Mutex
	pairs         map[string]*models.MatchedPair // key -> pair, current discovered set
	focus         models.ActiveMarketFocus
	lastTradeKeys map[string]time.Time // (pair_key|strategy) -> last execution time

	runCtx  context.Context // опубликован перед subscribe, виден onUpdate без гонки
	tradeWG sync.WaitGroup  // в полёте evaluateAndMaybeExecute; Run дожидается перед возвратом

	log *logging.Logger
}

// PersistencePort — узкий порт аппенд-лога для MatchedPair/Opportunity/Trade/RiskState.
type PersistencePort interface {
	LogMatchedPair(ctx context.Context, p *models.MatchedPair) error
	LogOpportunity(ctx context.Context, o *models.Opportunity, accepted bool, reason string) error
	LogTrade(ctx context.Context, t *models.Trade) error
	LogRiskState(ctx context.Context, s models.RiskState) error
}

func NewOrchestrator(cfg OrchestratorConfig, venueA, venueB venue.Venue, matcher *Matcher,
	detector *Detector, coord *ExecutionCoordinator, cache *OrderbookCache, risk *RiskManager, persist PersistencePort) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, venueA: venueA, venueB: venueB, matcher: matcher, detector: detector,
		coord: coord, cache: cache, risk: risk, persist: persist,
		pairs:         make(map[string]*models.MatchedPair),
		lastTradeKeys: make(map[string]time.Time),
		log:           logging.L().WithComponent("orchestrator"),
	}
}

// Run драйвит жизненный цикл до отмены ctx. Блокирующий вызов; вызывающий
// (cmd/arbiter) оборачивает его в горутину и ждёт завершения при shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.discover(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.risk.RunBalanceSyncer(ctx)
	}()
	GoroutineCount.Inc()
	defer GoroutineCount.Dec()

	o.runCtx = ctx

	if err := o.subscribe(); err != nil {
		return err
	}

	<-ctx.Done()
	wg.Wait()
	o.tradeWG.Wait() // дождаться сделок в полёте — не рвать их завершением венью/риска
	return nil
}

// discover пересобирает каталоги обеих площадок и формирует текущий набор пар.
func (o *Orchestrator) discover(ctx context.Context) error {
	catalogA, err := o.venueA.FetchCatalog(ctx, o.cfg.CatalogFilterA)
	if err != nil {
		return err
	}
	catalogB, err := o.venueB.FetchCatalog(ctx, o.cfg.CatalogFilterB)
	if err != nil {
		return err
	}

	matched := o.matcher.Match(catalogA, catalogB)

	o.mu.Lock()
	o.pairs = make(map[string]*models.MatchedPair, len(matched))
	for i := range matched {
		p := matched[i]
		o.pairs[p.Key] = &p
	}
	o.mu.Unlock()

	for i := range matched {
		_ = o.persist.LogMatchedPair(ctx, &matched[i])
	}
	return nil
}

// rediscoverAsync re-discovery post-trade is fire-and-forget (spec §4.8).
func (o *Orchestrator) rediscoverAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.discover(ctx); err != nil {
			o.log.Warn("post-trade re-discovery failed", logging.Err(err))
		}
	}()
}

func (o *Orchestrator) subscribe() error {
	instrumentsA, instrumentsB := o.instrumentLists()

	if err := o.venueA.SubscribeOrderbook(instrumentsA, o.onUpdate); err != nil {
		return err
	}
	if err := o.venueB.SubscribeOrderbook(instrumentsB, o.onUpdate); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) instrumentLists() ([]string, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var a, b []string
	for _, p := range o.pairs {
		a = append(a, p.VenueA.InstrumentID)
		b = append(b, p.VenueB.InstrumentID)
	}
	return a, b
}

// onUpdate — единый колбэк на каждое push-обновление стакана, с любой площадки.
func (o *Orchestrator) onUpdate(instrumentID string, snap *models.OrderbookSnapshot) {
	o.cache.Put(snap.Venue, instrumentID, snap)
	EventsProcessed.Inc()

	o.mu.Lock()
	if time.Now().Before(o.focus.CooldownUntil) {
		o.mu.Unlock()
		return // P7: во время cooldown путь детектора/координатора не выполняется
	}

	pair := o.findPairForInstrument(instrumentID)
	if pair == nil {
		o.mu.Unlock()
		return
	}

	if o.focus.Pair == nil {
		if o.passesFilters(pair) {
			o.focus.Pair = pair
			ActivePairGauge.Set(1)
		} else {
			o.mu.Unlock()
			return
		}
	} else if o.focus.Pair.Key != pair.Key {
		o.mu.Unlock()
		return // sticky policy: updates for non-active pairs dropped
	}

	if !o.passesFilters(pair) {
		o.focus = models.ActiveMarketFocus{}
		ActivePairGauge.Set(0)
		o.mu.Unlock()
		return
	}
	activePair := o.focus.Pair
	o.mu.Unlock()

	o.tradeWG.Add(1)
	defer o.tradeWG.Done()
	o.evaluateAndMaybeExecute(activePair)
}

func (o *Orchestrator) findPairForInstrument(instrumentID string) *models.MatchedPair {
	for _, p := range o.pairs {
		if p.VenueA.InstrumentID == instrumentID || p.VenueB.InstrumentID == instrumentID {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) passesFilters(pair *models.MatchedPair) bool {
	if time.Until(pair.ResolutionTime) < o.cfg.MinTimeToResolution {
		return false
	}
	lo, hi := o.cfg.PriceBandLo, o.cfg.PriceBandHi
	inBand := func(p float64) bool { return p >= lo && p <= hi }
	return inBand(pair.VenueA.YesPrice) && inBand(pair.VenueA.NoPrice) &&
		inBand(pair.VenueB.YesPrice) && inBand(pair.VenueB.NoPrice)
}

func (o *Orchestrator) evaluateAndMaybeExecute(pair *models.MatchedPair) {
	opp := o.detector.Evaluate(pair, o.cfg.TradeSize)
	ctx := o.runCtx
	if ctx == nil { // evaluateAndMaybeExecute вызван вне Run (тесты/ручной путь)
		ctx = context.Background()
	}
	if opp == nil {
		_ = o.persist.LogOpportunity(ctx, nil, false, "no profitable strategy")
		return
	}

	o.mu.Lock()
	last, seen := o.lastTradeKeys[opp.Key()]
	if seen && time.Since(last) < o.cfg.DedupeWindow {
		o.mu.Unlock()
		_ = o.persist.LogOpportunity(ctx, opp, false, "deduped within window")
		return
	}
	o.mu.Unlock()

	_ = o.persist.LogOpportunity(ctx, opp, true, "")

	result := o.coord.Execute(ctx, opp, pair)
	if result.Aborted {
		_ = o.persist.LogOpportunity(ctx, opp, false, string(result.Reason))
		return
	}

	o.mu.Lock()
	o.lastTradeKeys[opp.Key()] = time.Now()
	o.focus.CooldownUntil = time.Now().Add(o.cfg.Cooldown)
	o.focus.LastTradeKey = opp.Key()
	o.focus.LastTradeAt = time.Now()
	o.focus.Pair = nil
	ActivePairGauge.Set(0)
	o.mu.Unlock()

	if result.Trade != nil {
		_ = o.persist.LogTrade(ctx, result.Trade)
	}
	_ = o.persist.LogRiskState(ctx, o.risk.Snapshot())

	o.rediscoverAsync()
}
