package arb

import (
	"sync"
	"time"

	"arbitrage/internal/models"
)

// DefaultOrderbookTTL — жёсткий потолок на возраст наблюдения (spec §4.2).
const DefaultOrderbookTTL = 500 * time.Millisecond

// cacheKey — составной ключ (venue, instrument) без конкатенации строк.
type cacheKey struct {
	Venue        models.Venue
	InstrumentID string
}

type cacheEntry struct {
	Snapshot   *models.OrderbookSnapshot
	ReceivedAt time.Time
}

// shard — один сегмент кэша со своим RWMutex; шардирование по hash(instrument)
// снимает contention между независимыми инструментами на горячем пути
// push-обновлений (тот же приём, что и PriceTracker исходного движка).
type shard struct {
	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
}

// OrderbookCache — потокобезопасная карта (venue, instrument) → (snapshot, age)
// с принудительным TTL на чтение (C2).
type OrderbookCache struct {
	shards    []*shard
	numShards uint32
	ttl       time.Duration

	now func() time.Time // подменяется в тестах
}

// NewOrderbookCache создаёт кэш с заданным TTL (0 => DefaultOrderbookTTL).
func NewOrderbookCache(ttl time.Duration) *OrderbookCache {
	if ttl <= 0 {
		ttl = DefaultOrderbookTTL
	}
	const numShards = 16
	c := &OrderbookCache{
		shards:    make([]*shard, numShards),
		numShards: numShards,
		ttl:       ttl,
		now:       time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[cacheKey]*cacheEntry)}
	}
	return c
}

func (c *OrderbookCache) shardFor(key cacheKey) *shard {
	h := fnvHash(string(key.Venue) + "|" + key.InstrumentID)
	return c.shards[h%c.numShards]
}

// Put записывает снапшот под (venue, instrument). Вызывается из
// push-подписки венью-адаптера (C1); запись в порядке прибытия.
func (c *OrderbookCache) Put(venue models.Venue, instrumentID string, snap *models.OrderbookSnapshot) {
	key := cacheKey{Venue: venue, InstrumentID: instrumentID}
	s := c.shardFor(key)

	s.mu.Lock()
	s.entries[key] = &cacheEntry{Snapshot: snap, ReceivedAt: c.now()}
	s.mu.Unlock()
}

// Get возвращает снапшот, если он не устарел; в противном случае ok=false
// ("stale"), что обязывает вызывающего обратиться к C1 за свежими данными.
func (c *OrderbookCache) Get(venue models.Venue, instrumentID string) (snap *models.OrderbookSnapshot, ok bool) {
	key := cacheKey{Venue: venue, InstrumentID: instrumentID}
	s := c.shardFor(key)

	s.mu.RLock()
	entry, found := s.entries[key]
	s.mu.RUnlock()

	if !found {
		return nil, false
	}
	if c.now().Sub(entry.ReceivedAt) > c.ttl {
		return nil, false // stale
	}
	cp := *entry.Snapshot
	cp.Asks = append([]models.PriceLevel(nil), entry.Snapshot.Asks...)
	cp.Bids = append([]models.PriceLevel(nil), entry.Snapshot.Bids...)
	return &cp, true
}

// Age возвращает возраст последнего снапшота, независимо от TTL (для логов/метрик).
func (c *OrderbookCache) Age(venue models.Venue, instrumentID string) (time.Duration, bool) {
	key := cacheKey{Venue: venue, InstrumentID: instrumentID}
	s := c.shardFor(key)

	s.mu.RLock()
	entry, found := s.entries[key]
	s.mu.RUnlock()

	if !found {
		return 0, false
	}
	return c.now().Sub(entry.ReceivedAt), true
}

// TTL возвращает настроенный TTL кэша.
func (c *OrderbookCache) TTL() time.Duration { return c.ttl }
