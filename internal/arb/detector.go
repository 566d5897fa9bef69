package arb

import (
	"fmt"
	"math"
	"sync"
	"time"

	"arbitrage/internal/models"
	"arbitrage/internal/venue"
)

// DetectorConfig собирает пороги оценки из spec §4.4.
type DetectorConfig struct {
	MinProfit  float64       // 0.005 по умолчанию
	EpsFee     float64       // 0.02, порог pre-filter
	MemoTTL    time.Duration // 100ms
}

// DefaultDetectorConfig — значения по умолчанию из спецификации.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinProfit: 0.005,
		EpsFee:    0.02,
		MemoTTL:   100 * time.Millisecond,
	}
}

type memoKey string

type memoEntry struct {
	opp       *models.Opportunity
	computed  time.Time
}

// memoShard — один сегмент памоизационного кэша Detector'а, тот же приём
// шардирования, что и Orderbook Cache (shardFor переиспользует fnvHash).
type memoShard struct {
	mu      sync.Mutex
	entries map[memoKey]memoEntry
}

// Detector — Arbitrage Detector (C4): оценивает фи-скорректированную
// прибыльность для MatchedPair по двум компенсирующим стратегиям.
type Detector struct {
	cfg      DetectorConfig
	feeA     venue.FeeModel
	feeB     venue.FeeModel
	shards   []*memoShard
	numShards uint32
	now      func() time.Time
}

// NewDetector создаёт Detector с фиксированными моделями комиссий для
// площадки A и площадки B.
func NewDetector(cfg DetectorConfig, feeA, feeB venue.FeeModel) *Detector {
	const n = 8
	d := &Detector{cfg: cfg, feeA: feeA, feeB: feeB, shards: make([]*memoShard, n), numShards: n, now: time.Now}
	for i := range d.shards {
		d.shards[i] = &memoShard{entries: make(map[memoKey]memoEntry)}
	}
	return d
}

func (d *Detector) shardFor(key memoKey) *memoShard {
	return d.shards[fnvHash(string(key))%d.numShards]
}

// Evaluate оценивает пару рынков и возвращает Opportunity, если найдена
// прибыльная после комиссий сделка, иначе nil.
func (d *Detector) Evaluate(pair *models.MatchedPair, size float64) *models.Opportunity {
	start := d.now()
	defer func() {
		DetectionLatency.Observe(float64(d.now().Sub(start).Microseconds()) / 1000.0)
	}()

	yesA, noA := pair.VenueA.YesPrice, pair.VenueA.NoPrice
	yesB, noB := pair.VenueB.YesPrice, pair.VenueB.NoPrice

	key := memoKey(fmt.Sprintf("%s|%s|%.4f|%.4f|%.4f|%.4f",
		pair.VenueA.InstrumentID, pair.VenueB.InstrumentID, yesA, noA, yesB, noB))
	shard := d.shardFor(key)

	shard.mu.Lock()
	if entry, ok := shard.entries[key]; ok && d.now().Sub(entry.computed) <= d.cfg.MemoTTL {
		shard.mu.Unlock()
		MemoHits.Inc()
		return entry.opp
	}
	shard.mu.Unlock()

	opp := d.evaluateUncached(pair, yesA, noA, yesB, noB, size)

	shard.mu.Lock()
	shard.entries[key] = memoEntry{opp: opp, computed: d.now()}
	shard.mu.Unlock()

	return opp
}

func (d *Detector) evaluateUncached(pair *models.MatchedPair, yesA, noA, yesB, noB, size float64) *models.Opportunity {
	// Pre-filter: пропускает расчёт комиссий для подавляющего большинства
	// входов (spec §4.4, ~95% отсечения).
	s1Total := yesA + noB
	s2Total := noA + yesB
	minTotal := math.Min(s1Total, s2Total)
	if minTotal > 1-2*d.cfg.EpsFee {
		PreFilterRejects.Inc()
		return nil
	}

	feesS1 := d.feeA.Fee(size, yesA) + d.feeB.Fee(size, noB)
	netS1 := 1 - s1Total - feesS1

	feesS2 := d.feeA.Fee(size, noA) + d.feeB.Fee(size, yesB)
	netS2 := 1 - s2Total - feesS2

	var (
		strategy models.Strategy
		priceA, priceB, net, raw, fees float64
	)
	// При равенстве выигрывает стратегия с меньшим порядковым номером
	// (детерминированный разрыв ничьей, S₁ < S₂).
	if netS1 >= netS2 {
		strategy, priceA, priceB, net, raw, fees = models.StrategyYesAThenNoB, yesA, noB, netS1, s1Total, feesS1
	} else {
		strategy, priceA, priceB, net, raw, fees = models.StrategyNoAThenYesB, noA, yesB, netS2, s2Total, feesS2
	}

	if net < d.cfg.MinProfit {
		PostFeeRejects.Inc()
		return nil
	}

	OpportunitiesDetected.WithLabelValues(strategy.String()).Inc()

	return &models.Opportunity{
		PairKey:     pair.Key,
		Strategy:    strategy,
		InstrumentA: pair.VenueA.InstrumentID,
		InstrumentB: pair.VenueB.InstrumentID,
		PriceA:      priceA,
		PriceB:      priceB,
		NetProfit:   net,
		RawCost:     raw,
		Fees:        fees,
		Timestamp:   d.now(),
	}
}
