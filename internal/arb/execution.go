package arb

import (
	"context"
	"math"
	"sync"
	"time"

	"arbitrage/internal/models"
	"arbitrage/internal/venue"
	"arbitrage/pkg/logging"
)

// ExecutionConfig собирает таймауты и бюджеты протокола из spec §4.6.
type ExecutionConfig struct {
	BookFetchTimeout   time.Duration // ~5s общий бюджет на шаг 2
	BalanceMaxAge      time.Duration // 10s — кэш баланса считается свежим
	FillMonitorSchedule []time.Duration
	VenueMinNotional   map[models.Venue]float64 // notional floor за сделку
}

// DefaultFillMonitorSchedule — экспоненциальный backoff из spec §4.6, шаг 7.
func DefaultFillMonitorSchedule() []time.Duration {
	ms := []int{100, 200, 300, 500, 1000, 1000, 2000, 2000, 3000, 3000}
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		BookFetchTimeout:    5 * time.Second,
		BalanceMaxAge:       10 * time.Second,
		FillMonitorSchedule: DefaultFillMonitorSchedule(),
	}
}

// AbortReason классифицирует, на каком шаге протокол прервался без размещения.
type AbortReason string

const (
	AbortStaleEmptyBook AbortReason = "stale+empty"
	AbortInsufficientLiquidity AbortReason = "insufficient_liquidity"
	AbortSizeFloor AbortReason = "size_below_risk_cap"
	AbortRiskGate AbortReason = "risk_gate_rejected"
)

// ExecutionResult — итог одного вызова ExecutionCoordinator.Execute.
type ExecutionResult struct {
	Trade   *models.Trade // nil если абортировано до шага 6
	Aborted bool
	Reason  AbortReason
}

// ExecutionCoordinator — Execution Coordinator (C6).
type ExecutionCoordinator struct {
	cache  *OrderbookCache
	risk   *RiskManager
	unwind *UnwindPlanner
	venues map[models.Venue]venue.Venue
	cfg    ExecutionConfig
	log    *logging.Logger
}

func NewExecutionCoordinator(cache *OrderbookCache, risk *RiskManager, unwind *UnwindPlanner,
	venues map[models.Venue]venue.Venue, cfg ExecutionConfig) *ExecutionCoordinator {
	return &ExecutionCoordinator{
		cache: cache, risk: risk, unwind: unwind, venues: venues, cfg: cfg,
		log: logging.L().WithComponent("execution"),
	}
}

// Execute реализует протокол из 10 шагов spec §4.6 над одной возможностью.
func (c *ExecutionCoordinator) Execute(ctx context.Context, opp *models.Opportunity, pair *models.MatchedPair) *ExecutionResult {
	start := time.Now()
	defer func() { ExecutionLatency.Observe(float64(time.Since(start).Milliseconds())) }()

	if opp.StaleAt(time.Now(), 500*time.Millisecond) {
		return &ExecutionResult{Aborted: true, Reason: "stale_opportunity"}
	}

	venueA, venueB := c.resolveVenues(opp, pair)

	// Шаг 2: свежие книги из кэша; при устаревании — fan-out за свежими.
	snapA, okA := c.cache.Get(pair.VenueA.Venue, opp.InstrumentA)
	snapB, okB := c.cache.Get(pair.VenueB.Venue, opp.InstrumentB)
	if !okA || !okB {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.BookFetchTimeout)
		snapA, snapB = c.fetchBothBooksAndMaybeBalance(fetchCtx, venueA, venueB, opp)
		cancel()
		if snapA == nil || snapB == nil {
			return &ExecutionResult{Aborted: true, Reason: AbortStaleEmptyBook}
		}
	}

	// Шаг 3: строгая проверка ликвидности по обеим сторонам.
	askA, sizeA, okAskA := snapA.BestAsk()
	askB, sizeB, okAskB := snapB.BestAsk()
	if !okAskA || !okAskB || askA <= 0 || askB <= 0 {
		return &ExecutionResult{Aborted: true, Reason: AbortStaleEmptyBook}
	}

	// Шаг 4: sizing.
	totalPrice := opp.PriceA + opp.PriceB
	bankroll := c.risk.Snapshot().Bankroll
	size := math.Floor(bankroll * riskCapFraction(c.risk) / totalPrice)
	if size < 1 {
		return &ExecutionResult{Aborted: true, Reason: AbortSizeFloor}
	}
	if floor, ok := c.cfg.VenueMinNotional[pair.VenueA.Venue]; ok && size*opp.PriceA < floor {
		size = math.Ceil(floor / opp.PriceA)
	}
	if floor, ok := c.cfg.VenueMinNotional[pair.VenueB.Venue]; ok && size*opp.PriceB < floor {
		size = math.Ceil(floor / opp.PriceB)
	}
	if size > sizeA || size > sizeB {
		return &ExecutionResult{Aborted: true, Reason: AbortInsufficientLiquidity}
	}
	if size*totalPrice > riskCapFraction(c.risk)*bankroll {
		return &ExecutionResult{Aborted: true, Reason: AbortSizeFloor}
	}

	// Шаг 5: риск-шлюз.
	estimatedFees := venueA.Fee(size, opp.PriceA) + venueB.Fee(size, opp.PriceB)
	if !c.risk.CanExecute(size*totalPrice + estimatedFees) {
		return &ExecutionResult{Aborted: true, Reason: AbortRiskGate}
	}

	// Шаг 6: параллельное размещение двух ног.
	sideA, sideB := strategySides(opp.Strategy)
	legA, legB := c.placeParallel(ctx, venueA, venueB, opp, sideA, sideB, size)

	// Шаг 7-8: мониторинг заполнения с экспоненциальным backoff до терминального статуса.
	legA = c.monitorFill(ctx, venueA, legA)
	legB = c.monitorFill(ctx, venueB, legB)

	trade := &models.Trade{
		OpportunityKey: opp.Key(),
		Size:           size,
		LegA:           legA,
		LegB:           legB,
		RealizedCost:   legA.AvgPrice*legA.FilledSize + legB.AvgPrice*legB.FilledSize,
		RealizedFees:   venueA.Fee(legA.FilledSize, opp.PriceA) + venueB.Fee(legB.FilledSize, opp.PriceB),
		Timestamp:      time.Now(),
	}

	if legA.Status == models.FillStatusFilled && legB.Status == models.FillStatusFilled &&
		legA.FilledSize == size && legB.FilledSize == size {
		c.risk.RegisterTrade(trade.RealizedCost + trade.RealizedFees)
		TradesExecuted.WithLabelValues("filled").Inc()
		c.log.Info("trade filled", logging.String("pair_key", pair.Key), logging.Float64("cost", trade.RealizedCost))
		return &ExecutionResult{Trade: trade}
	}

	// Шаг 10: делегирование Unwind Planner'у на обнаруженный дисбаланс.
	trade.Unwound = true
	rec := c.buildUnwindAndPlan(ctx, venueA, venueB, pair, legA, legB)
	trade.UnwindDetail = rec
	TradesExecuted.WithLabelValues("unwound").Inc()
	c.risk.RegisterTrade(trade.RealizedCost + trade.RealizedFees + rec.ChosenCost)
	return &ExecutionResult{Trade: trade}
}

func riskCapFraction(r *RiskManager) float64 { return r.cfg.MaxRiskPerTrade }

func (c *ExecutionCoordinator) resolveVenues(opp *models.Opportunity, pair *models.MatchedPair) (venue.Venue, venue.Venue) {
	return c.venues[pair.VenueA.Venue], c.venues[pair.VenueB.Venue]
}

func strategySides(s models.Strategy) (models.Side, models.Side) {
	if s == models.StrategyYesAThenNoB {
		return models.BuyYes, models.BuyNo
	}
	return models.BuyNo, models.BuyYes
}

// fetchBothBooksAndMaybeBalance — одновременная выборка обоих стаканов и,
// если последняя авторитетная синхронизация баланса старше BalanceMaxAge,
// баланса венью-of-record — единственный fan-out с ограниченным таймаутом
// (тот же приём параллельного WaitGroup, что CheckBothLegsMargin исходного движка).
func (c *ExecutionCoordinator) fetchBothBooksAndMaybeBalance(ctx context.Context, venueA, venueB venue.Venue, opp *models.Opportunity) (*models.OrderbookSnapshot, *models.OrderbookSnapshot) {
	var wg sync.WaitGroup
	var snapA, snapB *models.OrderbookSnapshot

	wg.Add(2)
	go func() {
		defer wg.Done()
		if s, err := venueA.GetOrderbook(ctx, opp.InstrumentA); err == nil {
			snapA = s
			c.cache.Put(s.Venue, s.InstrumentID, s)
		}
	}()
	go func() {
		defer wg.Done()
		if s, err := venueB.GetOrderbook(ctx, opp.InstrumentB); err == nil {
			snapB = s
			c.cache.Put(s.Venue, s.InstrumentID, s)
		}
	}()

	if time.Since(c.risk.Snapshot().LastBalanceSync) > c.cfg.BalanceMaxAge {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.risk.SyncBalance(ctx)
		}()
	}

	wg.Wait()
	return snapA, snapB
}

// placeParallel размещает обе ноги одновременно, слушая оба результирующих
// канала через единый select — тот же приём, что ExecuteParallel исходного
// OrderExecutor'а, а не последовательные ожидания.
func (c *ExecutionCoordinator) placeParallel(ctx context.Context, venueA, venueB venue.Venue, opp *models.Opportunity, sideA, sideB models.Side, size float64) (models.LegFill, models.LegFill) {
	type result struct {
		leg models.LegFill
		err error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)

	go func() {
		orderID, err := venueA.PlaceOrder(ctx, opp.InstrumentA, sideA, size, opp.PriceA)
		chA <- result{leg: models.LegFill{Venue: pairVenueOf(venueA), InstrumentID: opp.InstrumentA, OrderID: orderID, Side: sideA, TargetPrice: opp.PriceA, TargetSize: size, Status: models.FillStatusResting}, err: err}
	}()
	go func() {
		orderID, err := venueB.PlaceOrder(ctx, opp.InstrumentB, sideB, size, opp.PriceB)
		chB <- result{leg: models.LegFill{Venue: pairVenueOf(venueB), InstrumentID: opp.InstrumentB, OrderID: orderID, Side: sideB, TargetPrice: opp.PriceB, TargetSize: size, Status: models.FillStatusResting}, err: err}
	}()

	var legA, legB models.LegFill
	var gotA, gotB bool
	for !gotA || !gotB {
		select {
		case rA := <-chA:
			legA = rA.leg
			if rA.err != nil {
				legA.Status = models.FillStatusRejected
			}
			gotA = true
		case rB := <-chB:
			legB = rB.leg
			if rB.err != nil {
				legB.Status = models.FillStatusRejected
			}
			gotB = true
		case <-ctx.Done():
			return legA, legB
		}
	}
	return legA, legB
}

func pairVenueOf(v venue.Venue) models.Venue { return v.Name() }

// monitorFill опрашивает ордер по расписанию backoff, проверяя заполнение
// перед каждым сном и сразу после каждого опроса (spec §4.6 шаг 7).
func (c *ExecutionCoordinator) monitorFill(ctx context.Context, v venue.Venue, leg models.LegFill) models.LegFill {
	if leg.Status == models.FillStatusRejected || leg.OrderID == "" {
		return leg
	}

	check := func() bool {
		status, err := v.GetOrder(ctx, leg.OrderID)
		if err != nil {
			return false
		}
		leg.FilledSize = status.FilledSize
		leg.AvgPrice = status.AvgPrice
		leg.Status = status.Status
		return status.Status == models.FillStatusFilled || status.Status == models.FillStatusCanceled || status.Status == models.FillStatusRejected
	}

	if check() {
		return leg
	}
	for _, delay := range c.cfg.FillMonitorSchedule {
		select {
		case <-ctx.Done():
			return leg
		case <-time.After(delay):
		}
		if check() {
			return leg
		}
	}
	if leg.FilledSize > 0 && leg.FilledSize < leg.TargetSize {
		leg.Status = models.FillStatusPartial
	}
	return leg
}

func (c *ExecutionCoordinator) buildUnwindAndPlan(ctx context.Context, venueA, venueB venue.Venue, pair *models.MatchedPair, legA, legB models.LegFill) *models.UnwindRecord {
	filledVenue, filledMarket, filledLeg, restingVenue, restingLeg := venueA, pair.VenueA, legA, venueB, legB
	if legB.FilledSize > legA.FilledSize {
		filledVenue, filledMarket, filledLeg, restingVenue, restingLeg = venueB, pair.VenueB, legB, venueA, legA
	}

	oppositeSide := models.BuyNo
	if filledLeg.Side == models.BuyNo {
		oppositeSide = models.BuyYes
	}

	im := imbalance{
		FilledVenue:      filledVenue,
		FilledMarket:     filledMarket,
		FilledSide:       filledLeg.Side,
		FilledQty:        filledLeg.FilledSize,
		FilledPrice:      filledLeg.AvgPrice,
		RestingVenue:     restingVenue,
		RestingOrderID:   restingLeg.OrderID,
		RestingStillOpen: restingLeg.Status == models.FillStatusResting,
		UnderfilledQty:   restingLeg.TargetSize - restingLeg.FilledSize,
		OppositeSide:     oppositeSide,
	}
	return c.unwind.Plan(ctx, im)
}
