package models

import "time"

// Strategy — какая сторона покупается на какой площадке.
type Strategy int

const (
	// StrategyYesAThenNoB — BUY_YES на площадке A, BUY_NO на площадке B.
	StrategyYesAThenNoB Strategy = iota
	// StrategyNoAThenYesB — BUY_NO на площадке A, BUY_YES на площадке B.
	StrategyNoAThenYesB
)

func (s Strategy) String() string {
	switch s {
	case StrategyYesAThenNoB:
		return "YES_A+NO_B"
	case StrategyNoAThenYesB:
		return "NO_A+YES_B"
	default:
		return "unknown"
	}
}

// Opportunity — обнаруженная, скорректированная на комиссии прибыльная пара ног.
// Создаётся Detector'ом (C4), потребляется один раз Coordinator'ом (C6), никогда не мутируется.
type Opportunity struct {
	PairKey      string // MatchedPair.Key
	Strategy     Strategy
	InstrumentA  string // предвычисленный id инструмента на площадке A
	InstrumentB  string // предвычисленный id инструмента на площадке B
	PriceA       float64
	PriceB       float64
	NetProfit    float64 // прибыль на единицу после комиссий
	RawCost      float64 // PriceA + PriceB до комиссий
	Fees         float64
	Timestamp    time.Time
}

// Key возвращает ключ дедупликации (pair_key, strategy), см. раздел 9 DESIGN NOTES.
func (o *Opportunity) Key() string {
	return o.PairKey + "|" + o.Strategy.String()
}

// StaleAt возвращает true если Opportunity старше maxAge относительно now.
// Используется Coordinator'ом на шаге 1 протокола: opportunity старше 500ms отбрасывается.
func (o *Opportunity) StaleAt(now time.Time, maxAge time.Duration) bool {
	return now.Sub(o.Timestamp) > maxAge
}
