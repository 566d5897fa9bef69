package arb

import (
	"context"
	"sync"
	"time"

	"arbitrage/internal/models"
	"arbitrage/pkg/logging"
)

// RiskConfig — декларативные лимиты (доли от bankroll), см. spec §4.5.
type RiskConfig struct {
	MaxRiskPerTrade   float64
	MaxDailyLoss      float64
	MaxNetExposure    float64
	BalanceSyncPeriod time.Duration // 30s по умолчанию
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxRiskPerTrade:   0.10,
		MaxDailyLoss:      0.05,
		MaxNetExposure:    0.50,
		BalanceSyncPeriod: 30 * time.Second,
	}
}

// BalanceSyncer извлекает авторитетный баланс у venue-of-record.
type BalanceSyncer interface {
	GetBalance(ctx context.Context) (float64, error)
}

// RiskManager — Risk Manager (C5). Один мьютекс сериализует все операции,
// тот же приём "единого домена взаимного исключения", что и в исходном
// internal/bot/risk.go — никакой отдельной блокировки для чтения.
type RiskManager struct {
	mu    sync.Mutex
	state models.RiskState
	cfg   RiskConfig

	syncer BalanceSyncer
	nowFn  func() time.Time

	log *logging.Logger
}

// NewRiskManager создаёт Risk Manager с начальным балансом.
func NewRiskManager(cfg RiskConfig, syncer BalanceSyncer, initialBankroll float64) *RiskManager {
	now := time.Now()
	rm := &RiskManager{
		cfg:    cfg,
		syncer: syncer,
		nowFn:  time.Now,
		log:    logging.L().WithComponent("risk"),
	}
	rm.state = models.RiskState{
		Bankroll:           initialBankroll,
		BankrollAtDayStart: initialBankroll,
		LastResetDate:      now.Format("2006-01-02"),
		LastBalanceSync:    now,
	}
	return rm
}

// CanExecute проверяет три лимита разом под мьютексом. Отказ не имеет
// побочных эффектов (spec: "reject caller; log; no side effect").
func (r *RiskManager) CanExecute(totalCost float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkDailyResetLocked()

	if r.state.KillSwitch {
		return false
	}
	if totalCost > r.cfg.MaxRiskPerTrade*r.state.Bankroll {
		return false
	}
	if r.state.DailyPnl-totalCost < -r.cfg.MaxDailyLoss*r.state.BankrollAtDayStart {
		return false
	}
	if r.state.CurrentExposure+totalCost > r.cfg.MaxNetExposure*r.state.Bankroll {
		return false
	}
	return true
}

// RegisterTrade фиксирует новую экспозицию после успешного размещения.
func (r *RiskManager) RegisterTrade(totalCostIncludingFees float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.CurrentExposure += totalCostIncludingFees
	ExposureGauge.Set(r.state.CurrentExposure)
}

// ClosePosition снимает экспозицию, защёлкивая её к нулю снизу (P3).
func (r *RiskManager) ClosePosition(amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.CurrentExposure -= amount
	if r.state.CurrentExposure < 0 {
		r.state.CurrentExposure = 0
	}
	ExposureGauge.Set(r.state.CurrentExposure)
}

// UpdatePnl применяет реализованный P&L дня.
func (r *RiskManager) UpdatePnl(delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.DailyPnl += delta
	DailyPnlGauge.Set(r.state.DailyPnl)
}

// SyncBalance опрашивает venue-of-record и обновляет bankroll. Ошибка
// оставляет предыдущее значение на месте и логируется как warning.
func (r *RiskManager) SyncBalance(ctx context.Context) {
	bal, err := r.syncer.GetBalance(ctx)
	if err != nil {
		r.log.Warn("balance sync failed, keeping previous bankroll", logging.Err(err))
		return
	}

	r.mu.Lock()
	r.state.Bankroll = bal
	r.state.LastBalanceSync = r.nowFn()
	r.mu.Unlock()
	BankrollGauge.Set(bal)
}

// CheckDailyReset обнуляет daily_pnl/current_exposure при смене
// календарного дня. Экспортирован отдельно, но также вызывается из
// CanExecute, чтобы любое решение шлюза было причинно после полуночи.
func (r *RiskManager) CheckDailyReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkDailyResetLocked()
}

func (r *RiskManager) checkDailyResetLocked() {
	today := r.nowFn().Format("2006-01-02")
	if today == r.state.LastResetDate {
		return
	}
	r.state.DailyPnl = 0
	r.state.CurrentExposure = 0
	r.state.BankrollAtDayStart = r.state.Bankroll
	r.state.LastResetDate = today
	DailyPnlGauge.Set(0)
	ExposureGauge.Set(0)
	r.log.Info("daily reset applied", logging.String("reset_date", today))
}

// TriggerKillSwitch активирует kill-switch; с этого момента CanExecute
// отклоняет все запросы до явного сброса.
func (r *RiskManager) TriggerKillSwitch(reason string) {
	r.mu.Lock()
	r.state.KillSwitch = true
	r.state.KillSwitchReason = reason
	r.mu.Unlock()

	KillSwitchGauge.Set(1)
	KillSwitchActivations.WithLabelValues(reason).Inc()
	r.log.Error("kill switch engaged", logging.String("reason", reason))
}

// ClearKillSwitch снимает kill-switch (явная операторская операция).
func (r *RiskManager) ClearKillSwitch() {
	r.mu.Lock()
	r.state.KillSwitch = false
	r.state.KillSwitchReason = ""
	r.mu.Unlock()
	KillSwitchGauge.Set(0)
}

// Snapshot возвращает копию текущего состояния риска (для логирования/персистентности).
func (r *RiskManager) Snapshot() models.RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunBalanceSyncer запускает фоновую задачу периодической синхронизации
// баланса до отмены ctx — тот же тикер-приём, что и RiskMonitor исходного движка.
func (r *RiskManager) RunBalanceSyncer(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.BalanceSyncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SyncBalance(ctx)
		}
	}
}
