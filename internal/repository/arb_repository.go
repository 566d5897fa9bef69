package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"arbitrage/internal/models"
)

// ArbRepository — аппенд-лог пар/возможностей/сделок/состояния риска.
// Реализует arb.PersistencePort; ничего не обновляет и не удаляет —
// каждый вызов INSERT'ит новую строку, история не переписывается.
type ArbRepository struct {
	db *sql.DB
}

// NewArbRepository создает новый экземпляр репозитория
func NewArbRepository(db *sql.DB) *ArbRepository {
	return &ArbRepository{db: db}
}

// LogMatchedPair записывает факт обнаружения сопоставленной пары Event Matcher'ом (C3)
func (r *ArbRepository) LogMatchedPair(ctx context.Context, p *models.MatchedPair) error {
	query := `
		INSERT INTO matched_pairs (pair_key, asset_tag, venue_a, instrument_a, venue_b, instrument_b, resolution_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		p.Key,
		p.AssetTag,
		p.VenueA.Venue,
		p.VenueA.InstrumentID,
		p.VenueB.Venue,
		p.VenueB.InstrumentID,
		p.ResolutionTime,
		p.CreatedAt,
	)
	return err
}

// LogOpportunity записывает каждую обнаруженную возможность, принятую или отклоненную
// Risk Manager'ом (C5) либо дедупликацией Orchestrator'а (C8)
func (r *ArbRepository) LogOpportunity(ctx context.Context, o *models.Opportunity, accepted bool, reason string) error {
	query := `
		INSERT INTO opportunities (pair_key, strategy, instrument_a, instrument_b, price_a, price_b, raw_cost, fees, net_profit, accepted, reject_reason, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		o.PairKey,
		o.Strategy.String(),
		o.InstrumentA,
		o.InstrumentB,
		o.PriceA,
		o.PriceB,
		o.RawCost,
		o.Fees,
		o.NetProfit,
		accepted,
		reason,
		o.Timestamp,
	)
	return err
}

// LogTrade записывает исполненную сделку вместе с деталями Unwind Planner'а (C7), если он срабатывал
func (r *ArbRepository) LogTrade(ctx context.Context, t *models.Trade) error {
	var unwindJSON []byte
	if t.UnwindDetail != nil {
		var err error
		unwindJSON, err = json.Marshal(t.UnwindDetail)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO trades (opportunity_key, size, leg_a_venue, leg_a_instrument, leg_a_side, leg_a_filled, leg_a_avg_price, leg_a_status,
		                     leg_b_venue, leg_b_instrument, leg_b_side, leg_b_filled, leg_b_avg_price, leg_b_status,
		                     realized_cost, realized_fees, unwound, unwind_detail, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.ExecContext(ctx, query,
		t.OpportunityKey,
		t.Size,
		t.LegA.Venue, t.LegA.InstrumentID, t.LegA.Side, t.LegA.FilledSize, t.LegA.AvgPrice, t.LegA.Status,
		t.LegB.Venue, t.LegB.InstrumentID, t.LegB.Side, t.LegB.FilledSize, t.LegB.AvgPrice, t.LegB.Status,
		t.RealizedCost,
		t.RealizedFees,
		t.Unwound,
		unwindJSON,
		t.Timestamp,
	)
	return err
}

// LogRiskState записывает снимок состояния Risk Manager'а (C5), в частности
// каждое срабатывание и сброс kill switch
func (r *ArbRepository) LogRiskState(ctx context.Context, s models.RiskState) error {
	query := `
		INSERT INTO risk_states (bankroll, bankroll_at_day_start, daily_pnl, current_exposure, kill_switch, kill_switch_reason, last_reset_date, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		s.Bankroll,
		s.BankrollAtDayStart,
		s.DailyPnl,
		s.CurrentExposure,
		s.KillSwitch,
		s.KillSwitchReason,
		s.LastResetDate,
		time.Now(),
	)
	return err
}

// GetRecentTrades возвращает последние N сделок (для пост-анализа/отладки)
func (r *ArbRepository) GetRecentTrades(ctx context.Context, limit int) ([]*models.Trade, error) {
	query := `
		SELECT opportunity_key, size, leg_a_venue, leg_a_instrument, leg_a_side, leg_a_filled, leg_a_avg_price, leg_a_status,
		       leg_b_venue, leg_b_instrument, leg_b_side, leg_b_filled, leg_b_avg_price, leg_b_status,
		       realized_cost, realized_fees, unwound, executed_at
		FROM trades
		ORDER BY executed_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		err := rows.Scan(
			&t.OpportunityKey, &t.Size,
			&t.LegA.Venue, &t.LegA.InstrumentID, &t.LegA.Side, &t.LegA.FilledSize, &t.LegA.AvgPrice, &t.LegA.Status,
			&t.LegB.Venue, &t.LegB.InstrumentID, &t.LegB.Side, &t.LegB.FilledSize, &t.LegB.AvgPrice, &t.LegB.Status,
			&t.RealizedCost, &t.RealizedFees, &t.Unwound, &t.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
