// Package stockmirror overlays externally-sourced price and stock figures
// onto product reads. Values are cached in Redis per external code with a
// TTL; upstream misses are cached as an explicit sentinel so items that do
// not exist remotely are not re-queried and, crucially, never read as a
// false zero. An upstream outage degrades to local data and never writes
// anything back.
package stockmirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/rmoralesp/tienda-fulfillment/internal/redisx"
)

// missSentinel marks "confirmed absent upstream" in the cache, distinct
// from any real value.
const missSentinel = "__miss__"

// Source is the remote warehouse system. Both calls are batch queries over
// external product codes.
type Source interface {
	PriceByCode(ctx context.Context, codes []string) (map[string]int64, error)
	StockByCode(ctx context.Context, codes []string) (map[string]int, error)
}

// CodeResolver maps local product ids to external codes.
type CodeResolver interface {
	ProductCodes(ctx context.Context, ids []int64) (map[int64]string, error)
}

// LocalWriter persists a remote stock figure locally. Used only behind the
// writeback flag, and only for codes the upstream confirmed.
type LocalWriter interface {
	UpdateLocalStock(ctx context.Context, productID int64, stock int) error
}

// kv is the slice of Redis the mirror needs; a map implementation stands in
// for tests.
type kv interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

type redisKV struct{ rdb *redis.Client }

func (r redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r redisKV) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

// Batch is the request-scoped buffer: within one unit of work, ids already
// resolved are answered from here without touching the cache again.
type Batch struct {
	price     map[int64]int64
	stock     map[int64]int
	priceMiss map[int64]bool
	stockMiss map[int64]bool
}

func NewBatch() *Batch {
	return &Batch{
		price:     make(map[int64]int64),
		stock:     make(map[int64]int),
		priceMiss: make(map[int64]bool),
		stockMiss: make(map[int64]bool),
	}
}

type Config struct {
	PriceTTL      time.Duration
	StockTTL      time.Duration
	ChunkSize     int
	FallbackLocal bool
	Writeback     bool
}

type Mirror struct {
	source Source
	codes  CodeResolver
	local  LocalWriter
	cache  kv
	cfg    Config
	log    zerolog.Logger

	priceBreaker *gobreaker.CircuitBreaker[map[string]int64]
	stockBreaker *gobreaker.CircuitBreaker[map[string]int]
}

func New(rdb *redis.Client, source Source, codes CodeResolver, local LocalWriter, cfg Config, log zerolog.Logger) *Mirror {
	return newMirror(redisKV{rdb: rdb}, source, codes, local, cfg, log)
}

func newMirror(cache kv, source Source, codes CodeResolver, local LocalWriter, cfg Config, log zerolog.Logger) *Mirror {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = redisx.TTLMirrorPrice
	}
	if cfg.StockTTL <= 0 {
		cfg.StockTTL = redisx.TTLMirrorStock
	}
	settings := gobreaker.Settings{
		Name:    "stockmirror",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
	return &Mirror{
		source:       source,
		codes:        codes,
		local:        local,
		cache:        cache,
		cfg:          cfg,
		log:          log.With().Str("component", "stockmirror").Logger(),
		priceBreaker: gobreaker.NewCircuitBreaker[map[string]int64](settings),
		stockBreaker: gobreaker.NewCircuitBreaker[map[string]int](settings),
	}
}

// PriceMap resolves remote prices (cents) for the given product ids. Ids
// with no remote value are simply absent from the result; callers keep
// their local figures for those.
func (m *Mirror) PriceMap(ctx context.Context, b *Batch, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))

	var pending []int64
	for _, id := range ids {
		if v, ok := b.price[id]; ok {
			out[id] = v
			continue
		}
		if b.priceMiss[id] {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return out, nil
	}

	codeByID, err := m.codes.ProductCodes(ctx, pending)
	if err != nil {
		return out, fmt.Errorf("resolve codes: %w", err)
	}

	var fetchIDs []int64
	for _, id := range pending {
		code, ok := codeByID[id]
		if !ok {
			b.priceMiss[id] = true
			continue
		}
		val, hit, err := m.cache.Get(ctx, fmt.Sprintf(redisx.KeyMirrorPrice, code))
		if err != nil {
			m.log.Warn().Err(err).Str("code", code).Msg("price cache read failed")
			fetchIDs = append(fetchIDs, id)
			continue
		}
		if hit {
			if val == missSentinel {
				b.priceMiss[id] = true
				continue
			}
			cents, err := strconv.ParseInt(val, 10, 64)
			if err == nil {
				b.price[id] = cents
				out[id] = cents
				continue
			}
		}
		fetchIDs = append(fetchIDs, id)
	}
	if len(fetchIDs) == 0 {
		return out, nil
	}

	fetched, err := m.fetchPrices(ctx, codesOf(fetchIDs, codeByID))
	if err != nil {
		m.log.Warn().Err(err).Int("ids", len(fetchIDs)).Msg("remote price fetch failed, using local values")
		if m.cfg.FallbackLocal {
			return out, nil
		}
		return out, err
	}

	for _, id := range fetchIDs {
		code := codeByID[id]
		cents, ok := fetched[code]
		if !ok {
			// confirmed absent upstream: cache the sentinel, not a zero
			_ = m.cache.Set(ctx, fmt.Sprintf(redisx.KeyMirrorPrice, code), missSentinel, m.cfg.PriceTTL)
			b.priceMiss[id] = true
			continue
		}
		_ = m.cache.Set(ctx, fmt.Sprintf(redisx.KeyMirrorPrice, code), strconv.FormatInt(cents, 10), m.cfg.PriceTTL)
		b.price[id] = cents
		out[id] = cents
	}
	return out, nil
}

// StockMap resolves remote stock counts for the given product ids, same
// contract as PriceMap. With writeback enabled, confirmed remote figures
// are persisted locally as well.
func (m *Mirror) StockMap(ctx context.Context, b *Batch, ids []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(ids))

	var pending []int64
	for _, id := range ids {
		if v, ok := b.stock[id]; ok {
			out[id] = v
			continue
		}
		if b.stockMiss[id] {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return out, nil
	}

	codeByID, err := m.codes.ProductCodes(ctx, pending)
	if err != nil {
		return out, fmt.Errorf("resolve codes: %w", err)
	}

	var fetchIDs []int64
	for _, id := range pending {
		code, ok := codeByID[id]
		if !ok {
			b.stockMiss[id] = true
			continue
		}
		val, hit, err := m.cache.Get(ctx, fmt.Sprintf(redisx.KeyMirrorStock, code))
		if err != nil {
			m.log.Warn().Err(err).Str("code", code).Msg("stock cache read failed")
			fetchIDs = append(fetchIDs, id)
			continue
		}
		if hit {
			if val == missSentinel {
				b.stockMiss[id] = true
				continue
			}
			n, err := strconv.Atoi(val)
			if err == nil {
				b.stock[id] = n
				out[id] = n
				continue
			}
		}
		fetchIDs = append(fetchIDs, id)
	}
	if len(fetchIDs) == 0 {
		return out, nil
	}

	fetched, err := m.fetchStock(ctx, codesOf(fetchIDs, codeByID))
	if err != nil {
		m.log.Warn().Err(err).Int("ids", len(fetchIDs)).Msg("remote stock fetch failed, using local values")
		if m.cfg.FallbackLocal {
			return out, nil
		}
		return out, err
	}

	for _, id := range fetchIDs {
		code := codeByID[id]
		n, ok := fetched[code]
		if !ok {
			_ = m.cache.Set(ctx, fmt.Sprintf(redisx.KeyMirrorStock, code), missSentinel, m.cfg.StockTTL)
			b.stockMiss[id] = true
			continue
		}
		_ = m.cache.Set(ctx, fmt.Sprintf(redisx.KeyMirrorStock, code), strconv.Itoa(n), m.cfg.StockTTL)
		b.stock[id] = n
		out[id] = n

		if m.cfg.Writeback && m.local != nil {
			if err := m.local.UpdateLocalStock(ctx, id, n); err != nil {
				m.log.Warn().Err(err).Int64("product_id", id).Msg("stock writeback failed")
			}
		}
	}
	return out, nil
}

func (m *Mirror) fetchPrices(ctx context.Context, codes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	for _, chunk := range chunks(codes, m.cfg.ChunkSize) {
		res, err := m.priceBreaker.Execute(func() (map[string]int64, error) {
			return m.source.PriceByCode(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		for k, v := range res {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Mirror) fetchStock(ctx context.Context, codes []string) (map[string]int, error) {
	out := make(map[string]int, len(codes))
	for _, chunk := range chunks(codes, m.cfg.ChunkSize) {
		res, err := m.stockBreaker.Execute(func() (map[string]int, error) {
			return m.source.StockByCode(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		for k, v := range res {
			out[k] = v
		}
	}
	return out, nil
}

func codesOf(ids []int64, codeByID map[int64]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, codeByID[id])
	}
	return out
}

func chunks(s []string, size int) [][]string {
	var out [][]string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
