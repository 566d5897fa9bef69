// Package models содержит доменные типы арбитражного движка: рынки,
// сопоставленные пары, стаканы и состояние риска.
package models

import "time"

// Venue — идентификатор площадки (Kalshi-style или Polymarket-style CLOB).
type Venue string

// Side — нормализованная сторона сделки на бинарном рынке.
type Side string

const (
	BuyYes Side = "BUY_YES"
	BuyNo  Side = "BUY_NO"
)

// Market — инструмент на одной площадке, резолвящийся в YES/NO.
type Market struct {
	Venue          Venue
	InstrumentID   string // непрозрачная строка за пределами адаптера
	Title          string
	ResolutionTime time.Time
	ResolutionSrc  string
	YesPrice       float64 // [0,1]
	NoPrice        float64 // [0,1]
	YesVolume      float64
	NoVolume       float64
	Metadata       map[string]string // venue-specific: token ids и т.п.
}

// Valid проверяет инварианты Market из спецификации раздела Data Model.
func (m *Market) Valid(epsSpread float64) bool {
	if m.YesPrice < 0 || m.YesPrice > 1 || m.NoPrice < 0 || m.NoPrice > 1 {
		return false
	}
	return m.YesPrice+m.NoPrice <= 1+epsSpread
}

// MatchedPair — два рынка, признанных эквивалентными Event Matcher'ом (C3).
type MatchedPair struct {
	VenueA         Market
	VenueB         Market
	ResolutionTime time.Time
	AssetTag       string
	Key            string // семантический ключ, стабильный между обновлениями каталога
	CreatedAt      time.Time
}

// PriceLevel — один уровень стакана.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot — top-N уровней asks/bids по одной стороне инструмента.
type OrderbookSnapshot struct {
	InstrumentID string
	Venue        Venue
	ReceivedAt   time.Time
	Asks         []PriceLevel // возрастание по цене
	Bids         []PriceLevel // убывание по цене
}

// Age возвращает возраст снапшота относительно переданного "текущего" времени.
func (s *OrderbookSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ReceivedAt)
}

// BestAsk возвращает лучший ask или (0,0,false) если стакан пуст.
func (s *OrderbookSnapshot) BestAsk() (price, size float64, ok bool) {
	if len(s.Asks) == 0 {
		return 0, 0, false
	}
	return s.Asks[0].Price, s.Asks[0].Size, true
}

// BestBid возвращает лучший bid или (0,0,false) если стакан пуст.
func (s *OrderbookSnapshot) BestBid() (price, size float64, ok bool) {
	if len(s.Bids) == 0 {
		return 0, 0, false
	}
	return s.Bids[0].Price, s.Bids[0].Size, true
}

// ActiveMarketFocus — единственная пара, на которую сейчас подписан Orchestrator (C8).
type ActiveMarketFocus struct {
	Pair            *MatchedPair
	CooldownUntil   time.Time
	LastTradeKey    string
	LastTradeAt     time.Time
}
