package source

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/pkg/retry"
	"dlob_engine/pkg/telemetry"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "dlob_engine/pkg/apperrors"
	pkghttp "dlob_engine/pkg/http"
)

// OracleCache holds the latest oracle price per market. Prices older than maxAge
// are reported unavailable.
type OracleCache struct {
	mu     sync.RWMutex
	prices map[core.MarketID]core.OraclePrice
	maxAge time.Duration
	now    func() time.Time
}

// NewOracleCache creates an empty cache; a zero maxAge never expires prices
func NewOracleCache(maxAge time.Duration) *OracleCache {
	return &OracleCache{
		prices: make(map[core.MarketID]core.OraclePrice),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Set records a price observation. Observations for an older slot are ignored.
func (c *OracleCache) Set(market core.MarketID, price core.OraclePrice) {
	if price.ObservedAt.IsZero() {
		price.ObservedAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.prices[market]; ok && price.Slot != 0 && price.Slot < prev.Slot {
		return
	}
	c.prices[market] = price
}

// PriceFor implements core.IOraclePriceProvider
func (c *OracleCache) PriceFor(market core.MarketID) (core.OraclePrice, error) {
	c.mu.RLock()
	price, ok := c.prices[market]
	c.mu.RUnlock()

	if !ok {
		return core.OraclePrice{}, fmt.Errorf("%w: no price for %s", apperrors.ErrOraclePriceUnavailable, market)
	}
	if !price.Price.IsPositive() {
		return core.OraclePrice{}, fmt.Errorf("%w: non-positive price for %s", apperrors.ErrOraclePriceUnavailable, market)
	}
	if c.maxAge > 0 {
		if age := c.now().Sub(price.ObservedAt); age > c.maxAge {
			return core.OraclePrice{}, fmt.Errorf("%w: price for %s is %s old", apperrors.ErrOraclePriceUnavailable, market, age)
		}
	}
	return price, nil
}

// OraclePoller refreshes an OracleCache from the upstream API on a fixed interval
type OraclePoller struct {
	client   Getter
	cache    *OracleCache
	markets  []core.MarketID
	interval time.Duration
	policy   retry.RetryPolicy
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOraclePoller creates a poller for the given markets
func NewOraclePoller(client Getter, cache *OracleCache, markets []core.MarketID, interval time.Duration, logger core.ILogger) *OraclePoller {
	return &OraclePoller{
		client:   client,
		cache:    cache,
		markets:  markets,
		interval: interval,
		policy:   retry.DefaultPolicy,
		logger:   logger.WithField("component", "oracle_poller"),
		metrics:  telemetry.GetGlobalMetrics(),
	}
}

// Start polls once synchronously, then keeps polling in the background
func (p *OraclePoller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.PollOnce(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit
func (p *OraclePoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// PollOnce fetches every market's price once. Failures leave the cached value in place.
func (p *OraclePoller) PollOnce(ctx context.Context) {
	for _, id := range p.markets {
		var resp oracleResponse
		err := retry.Do(ctx, p.policy, isTransient, func() error {
			body, err := p.client.Get(ctx, oraclePath(id), nil)
			if err != nil {
				return err
			}
			return json.Unmarshal(body, &resp)
		})
		if err != nil {
			p.logger.Warn("Oracle poll failed", "market", id.String(), "error", err)
			continue
		}
		now := time.Now()
		p.cache.Set(id, core.OraclePrice{Price: resp.Price, Slot: resp.Slot, ObservedAt: now})
		p.metrics.SetOracleObserved(id.String(), now)
	}
}

// isTransient retries everything except client errors and undecodable bodies
func isTransient(err error) bool {
	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr) && !errors.Is(err, context.Canceled)
}
