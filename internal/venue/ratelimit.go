package venue

import (
	"context"

	"golang.org/x/time/rate"

	"arbitrage/pkg/ratelimit"
)

// VenueLimiter комбинирует два независимых лимитера: pkg/ratelimit.MultiLimiter
// для per-категорийных бюджетов площадки (ордера vs котировки vs баланс — тот
// же разрез, что в исходном движке), и golang.org/x/time/rate.Limiter как
// единый потолок на совокупную исходящую нагрузку от движка на одну площадку
// — нужен, потому что несколько категорий могут одновременно упереться в
// пропускную способность хоста, а MultiLimiter о других категориях не знает.
type VenueLimiter struct {
	categories *ratelimit.MultiLimiter
	ceiling    *rate.Limiter
}

// NewVenueLimiter создаёт лимитер для одной площадки.
// ceilingRPS — совокупный потолок запросов/сек по всем категориям.
func NewVenueLimiter(ceilingRPS float64, ceilingBurst int) *VenueLimiter {
	return &VenueLimiter{
		categories: ratelimit.NewMultiLimiter(),
		ceiling:    rate.NewLimiter(rate.Limit(ceilingRPS), ceilingBurst),
	}
}

// AddCategory регистрирует лимит для категории запросов ("orders", "quotes", "account").
func (v *VenueLimiter) AddCategory(category string, ratePerSec, burst float64) {
	v.categories.Add(category, ratePerSec, burst)
}

// Wait блокирует до тех пор, пока и категорийный, и совокупный лимиты не
// допустят запрос. Порядок не имеет значения: оба обязаны освободить токен.
func (v *VenueLimiter) Wait(ctx context.Context, category string) error {
	if err := v.categories.Wait(ctx, category); err != nil {
		return err
	}
	return v.ceiling.Wait(ctx)
}

// KalshiLimiter — заранее сконфигурированный лимитер под документированные лимиты Kalshi.
func KalshiLimiter() *VenueLimiter {
	l := NewVenueLimiter(20, 40)
	l.AddCategory("orders", 10, 20)
	l.AddCategory("quotes", 20, 40)
	l.AddCategory("account", 5, 10)
	return l
}

// PolymarketLimiter — заранее сконфигурированный лимитер под CLOB API Polymarket.
func PolymarketLimiter() *VenueLimiter {
	l := NewVenueLimiter(25, 50)
	l.AddCategory("orders", 15, 30)
	l.AddCategory("quotes", 25, 50)
	l.AddCategory("account", 5, 10)
	return l
}
