package arb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики арбитражного движка
// ============================================================
//
// Структура и соглашения об именовании следуют исходному
// internal/bot/metrics.go: namespace "arbitrage", подсистема на компонент,
// гистограммы для латентностей, счётчики для дискретных событий, гейджи
// для текущего состояния.

var (
	// DetectionLatency — время оценки одной MatchedPair в Detector'е (C4).
	DetectionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "arbitrage",
			Subsystem: "detector",
			Name:      "evaluation_latency_ms",
			Help:      "Time to evaluate one matched pair for arbitrage in milliseconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// OpportunitiesDetected — возможности, прошедшие pre-filter и fee-gate.
	OpportunitiesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "detector",
			Name:      "opportunities_detected_total",
			Help:      "Opportunities emitted, by strategy",
		},
		[]string{"strategy"},
	)

	// PreFilterRejects — пары, отброшенные до вычисления комиссий.
	PreFilterRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "detector",
			Name:      "prefilter_rejects_total",
			Help:      "Pairs rejected by the pre-filter short-circuit before fee evaluation",
		},
	)

	// PostFeeRejects — пары, не прошедшие порог min_profit после учёта комиссий.
	PostFeeRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "detector",
			Name:      "postfee_rejects_total",
			Help:      "Pairs that failed the min_profit gate after fee evaluation",
		},
	)

	// MemoHits — обращения к памоизационному кэшу, давшие готовый результат.
	MemoHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "detector",
			Name:      "memo_hits_total",
			Help:      "Detector memoization cache hits",
		},
	)

	// TradesExecuted — сделки, зарегистрированные Coordinator'ом (C6).
	TradesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "execution",
			Name:      "trades_executed_total",
			Help:      "Trades executed, by outcome (filled, unwound)",
		},
		[]string{"outcome"},
	)

	// ExecutionLatency — время прохождения протокола Coordinator'а целиком.
	ExecutionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "arbitrage",
			Subsystem: "execution",
			Name:      "coordinator_latency_ms",
			Help:      "Time from opportunity consumption to terminal trade state",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	// UnwindsTriggered — количество обращений к Unwind Planner'у, по выбранной стратегии.
	UnwindsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "unwind",
			Name:      "unwinds_total",
			Help:      "Unwind Planner invocations, by chosen strategy",
		},
		[]string{"strategy"},
	)

	// KillSwitchActivations — срабатывания kill-switch, по источнику.
	KillSwitchActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "risk",
			Name:      "kill_switch_activations_total",
			Help:      "Kill-switch activations, by triggering reason",
		},
		[]string{"reason"},
	)

	// BankrollGauge — текущий баланс по мнению Risk Manager'а.
	BankrollGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "risk",
			Name:      "bankroll",
			Help:      "Current bankroll as last synced from the venue of record",
		},
	)

	// DailyPnlGauge — текущий дневной P&L.
	DailyPnlGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "risk",
			Name:      "daily_pnl",
			Help:      "Current day's realized P&L",
		},
	)

	// ExposureGauge — текущая совокупная экспозиция.
	ExposureGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "risk",
			Name:      "current_exposure",
			Help:      "Current committed net exposure",
		},
	)

	// KillSwitchGauge — 1 если kill-switch активен, иначе 0.
	KillSwitchGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "risk",
			Name:      "kill_switch_active",
			Help:      "1 if the kill switch is currently engaged",
		},
	)

	// ActivePairGauge — 1 если Orchestrator удерживает активную пару.
	ActivePairGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "orchestrator",
			Name:      "active_pair_set",
			Help:      "1 if the orchestrator currently has an active sticky pair",
		},
	)

	// GoroutineCount — число фоновых горутин движка (push-consumer, syncer, и т.п.).
	GoroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "orchestrator",
			Name:      "goroutines",
			Help:      "Number of background goroutines managed by the orchestrator",
		},
	)

	// EventsProcessed — push-обновления стакана, маршрутизированные в колбэк Orchestrator'а.
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "orchestrator",
			Name:      "events_processed_total",
			Help:      "Orderbook push updates routed through the orchestrator callback",
		},
	)
)
