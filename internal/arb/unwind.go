package arb

import (
	"context"
	"errors"
	"time"

	"arbitrage/internal/models"
	"arbitrage/internal/venue"
	"arbitrage/pkg/logging"

	"go.uber.org/multierr"
)

// UnwindPlanner — Unwind Planner (C7). Дано асимметричное состояние после
// размещения, выбирает дешевейший из трёх путей нейтрализации.
// Структурно обобщает исходные SecondLegFailHandler (откат удавшейся ноги)
// и RiskManager.HandleLiquidation (экстренное закрытие оставшейся ноги) в
// три именованные, явно сравниваемые стратегии.
type UnwindPlanner struct {
	risk *RiskManager
	log  *logging.Logger
}

func NewUnwindPlanner(risk *RiskManager) *UnwindPlanner {
	return &UnwindPlanner{risk: risk, log: logging.L().WithComponent("unwind")}
}

// imbalance описывает асимметричную позицию, требующую нейтрализации.
type imbalance struct {
	FilledVenue  venue.Venue
	FilledMarket models.Market
	FilledSide   models.Side
	FilledQty    float64
	FilledPrice  float64

	RestingVenue     venue.Venue
	RestingOrderID   string
	RestingStillOpen bool
	UnderfilledQty   float64
	OppositeSide     models.Side
}

// Plan оценивает три кандидатных пути и выбирает минимальный по стоимости.
func (p *UnwindPlanner) Plan(ctx context.Context, im imbalance) *models.UnwindRecord {
	rec := &models.UnwindRecord{
		ImbalancedLeg:  im.FilledSide,
		FilledQty:      im.FilledQty,
		UnderfilledQty: im.UnderfilledQty,
		Timestamp:      time.Now(),
	}

	cancel := p.evaluateCancel(ctx, im)
	hedge := p.evaluateHedge(ctx, im)
	aggressive := p.evaluateAggressiveExit(ctx, im)

	rec.Candidates = []models.UnwindCandidate{cancel, hedge, aggressive}

	best := pickCheapestFeasible(rec.Candidates)
	if best == nil {
		rec.KillSwitchHit = true
		combined := combineInfeasibilityReasons(rec.Candidates)
		p.log.Error("no feasible unwind candidate", logging.Err(combined))
		p.risk.TriggerKillSwitch("unwind infeasible: no candidate path available")
		UnwindsTriggered.WithLabelValues("none").Inc()
		return rec
	}

	rec.Chosen = best.Name
	rec.ChosenCost = best.Cost
	UnwindsTriggered.WithLabelValues(best.Name).Inc()
	p.log.Info("unwind plan chosen",
		logging.String("strategy", best.Name),
		logging.Float64("cost", best.Cost))
	return rec
}

// combineInfeasibilityReasons aggregates every rejected candidate's reason
// into one error, so the kill-switch trigger carries the full picture
// instead of only the last-evaluated path.
func combineInfeasibilityReasons(candidates []models.UnwindCandidate) error {
	var err error
	for _, c := range candidates {
		if c.Feasible {
			continue
		}
		err = multierr.Append(err, errors.New(c.Name+": "+c.Reason))
	}
	return err
}

func pickCheapestFeasible(candidates []models.UnwindCandidate) *models.UnwindCandidate {
	var best *models.UnwindCandidate
	for i := range candidates {
		c := &candidates[i]
		if !c.Feasible {
			continue
		}
		if best == nil || c.Cost < best.Cost {
			best = c
		}
	}
	return best
}

// evaluateCancel: отменить недозаполненную ногу, если она ещё RESTING.
// Успешная отмена стоит 0, но если заполненная нога не нулевая, она сама
// становится позицией, требующей нейтрализации отдельно — здесь
// фиксируется только стоимость самой отмены.
func (p *UnwindPlanner) evaluateCancel(ctx context.Context, im imbalance) models.UnwindCandidate {
	if !im.RestingStillOpen {
		return models.UnwindCandidate{Name: "cancel", Feasible: false, Reason: "resting leg already terminal"}
	}
	if err := im.RestingVenue.CancelOrder(ctx, im.RestingOrderID); err != nil {
		return models.UnwindCandidate{Name: "cancel", Feasible: false, Reason: "cancel rejected: " + err.Error()}
	}
	return models.UnwindCandidate{Name: "cancel", Feasible: true, Cost: 0}
}

// evaluateHedge: купить противоположный исход на той же площадке, где
// заполнилась нога, чтобы сумма на этой площадке стала единичной.
func (p *UnwindPlanner) evaluateHedge(ctx context.Context, im imbalance) models.UnwindCandidate {
	book, err := im.FilledVenue.GetOrderbook(ctx, im.FilledMarket.InstrumentID)
	if err != nil {
		return models.UnwindCandidate{Name: "hedge", Feasible: false, Reason: "orderbook fetch failed: " + err.Error()}
	}
	if book == nil {
		return models.UnwindCandidate{Name: "hedge", Feasible: false, Reason: "no orderbook available"}
	}
	askPrice, askSize, ok := book.BestAsk()
	if !ok || askSize < im.FilledQty {
		return models.UnwindCandidate{Name: "hedge", Feasible: false, Reason: "insufficient opposite-side liquidity"}
	}
	fee := im.FilledVenue.Fee(im.FilledQty, askPrice)
	cost := askPrice*im.FilledQty + fee
	return models.UnwindCandidate{Name: "hedge", Feasible: true, Cost: cost}
}

// evaluateAggressiveExit: продать обратно нежелательную позицию лимитом у
// границы книги (0.99 для YES, 0.01 для NO) — эквивалент рыночного выметания остатка.
func (p *UnwindPlanner) evaluateAggressiveExit(ctx context.Context, im imbalance) models.UnwindCandidate {
	book, err := im.FilledVenue.GetOrderbook(ctx, im.FilledMarket.InstrumentID)
	if err != nil {
		return models.UnwindCandidate{Name: "aggressive_exit", Feasible: false, Reason: "orderbook fetch failed: " + err.Error()}
	}
	if book == nil {
		return models.UnwindCandidate{Name: "aggressive_exit", Feasible: false, Reason: "no orderbook available"}
	}
	bidPrice, bidSize, ok := book.BestBid()
	if !ok || bidSize <= 0 {
		return models.UnwindCandidate{Name: "aggressive_exit", Feasible: false, Reason: "no bid depth to sweep"}
	}
	fee := im.FilledVenue.Fee(im.FilledQty, bidPrice)
	cost := bidPrice*im.FilledQty + fee
	return models.UnwindCandidate{Name: "aggressive_exit", Feasible: true, Cost: cost}
}
