// Package venue нормализует REST+push фиды отдельных площадок бинарных
// prediction-рынков в единый контракт (C1 — Venue Adapter).
package venue

import (
	"context"
	"time"

	"arbitrage/internal/models"
)

// CatalogFilter сужает fetch_catalog к конкретной серии и статусу рынков.
type CatalogFilter struct {
	SeriesPrefix string // напр. "KXBTC15M", "btc-15m"
	Status       string // "open"
}

// Venue — унифицированный интерфейс одной торговой площадки.
// Единственный компонент, которому разрешено сериализовать venue-специфичные
// идентификаторы; все прочие компоненты видят непрозрачные строки.
type Venue interface {
	Name() models.Venue

	// FetchCatalog возвращает список рынков, удовлетворяющих фильтру.
	FetchCatalog(ctx context.Context, filter CatalogFilter) ([]models.Market, error)

	// GetOrderbook возвращает top-of-book снапшот для инструмента.
	GetOrderbook(ctx context.Context, instrumentID string) (*models.OrderbookSnapshot, error)

	// GetBalance возвращает доступный баланс в денежных единицах площадки.
	GetBalance(ctx context.Context) (float64, error)

	// PlaceOrder размещает лимитный ордер по заданной стороне/размеру/цене.
	PlaceOrder(ctx context.Context, instrumentID string, side models.Side, size, price float64) (orderID string, err error)

	// GetOrder возвращает текущий статус ордера.
	GetOrder(ctx context.Context, orderID string) (*OrderStatus, error)

	// CancelOrder отменяет ордер, если он ещё не в терминальном состоянии.
	CancelOrder(ctx context.Context, orderID string) error

	// SubscribeOrderbook подписывается на push-обновления стакана для набора инструментов.
	// callback вызывается на каждое обновление с (instrumentID, snapshot).
	SubscribeOrderbook(instrumentIDs []string, callback func(instrumentID string, snap *models.OrderbookSnapshot)) error

	// Fee возвращает комиссию площадки для сделки заданного размера/цены (см. FeeModel).
	Fee(size, price float64) float64

	// Close закрывает соединения площадки.
	Close() error
}

// OrderStatus — статус ордера, опрашиваемый Execution Coordinator'ом (шаг 7).
type OrderStatus struct {
	OrderID    string
	Status     models.FillStatus
	FilledSize float64
	AvgPrice   float64
	UpdatedAt  time.Time
}

// FeeModel вычисляет комиссию площадки. Один venue — плоская комиссия за
// контракт, другой — пропорциональная ставка от номинала (см. spec §4.4).
type FeeModel interface {
	Fee(size, price float64) float64
}

// FlatFee — фиксированная комиссия за единицу (Kalshi-style площадка).
type FlatFee struct {
	PerUnit float64
}

func (f FlatFee) Fee(size, price float64) float64 {
	return f.PerUnit * size
}

// ProportionalFee — комиссия как доля от номинала сделки (Polymarket-style площадка).
type ProportionalFee struct {
	Rate float64
}

func (f ProportionalFee) Fee(size, price float64) float64 {
	return f.Rate * size * price
}

// Error kinds — см. spec §7. Transient оборачивается retry.Temporary адаптером;
// Fatal пробрасывается как есть.
type ErrKind int

const (
	ErrKindTransient ErrKind = iota
	ErrKindFatal
)

// VenueError — ошибка площадки с классификацией transient/fatal.
type VenueError struct {
	Venue   models.Venue
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *VenueError) Error() string {
	return string(e.Venue) + ": " + e.Message
}

func (e *VenueError) Unwrap() error {
	return e.Cause
}
