package models

import "time"

// RiskState — процесс-глобальное, конкурентно читаемое состояние риска.
// Владелец — arb.RiskManager; наружу отдаются только копии.
type RiskState struct {
	Bankroll          float64
	BankrollAtDayStart float64
	DailyPnl          float64
	CurrentExposure   float64
	LastBalanceSync   time.Time
	LastResetDate     string // YYYY-MM-DD, локальный календарный день
	KillSwitch        bool
	KillSwitchReason  string
}
