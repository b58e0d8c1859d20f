package source

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/pkg/concurrency"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	apperrors "dlob_engine/pkg/apperrors"
)

// Getter is the subset of pkg/http.Client the sources use
type Getter interface {
	Get(ctx context.Context, path string, params map[string]string) ([]byte, error)
}

// HTTPOrderProvider fetches every configured market's resting orders from the upstream
// REST API. Markets are fetched concurrently; the snapshot is all-or-nothing.
type HTTPOrderProvider struct {
	client  Getter
	pool    *concurrency.WorkerPool
	markets []core.MarketID
	logger  core.ILogger
}

// NewHTTPOrderProvider creates a provider for the given markets
func NewHTTPOrderProvider(client Getter, pool *concurrency.WorkerPool, markets []core.MarketID, logger core.ILogger) *HTTPOrderProvider {
	return &HTTPOrderProvider{
		client:  client,
		pool:    pool,
		markets: markets,
		logger:  logger.WithField("component", "order_provider"),
	}
}

// Fetch implements core.IOrderStateProvider
func (p *HTTPOrderProvider) Fetch(ctx context.Context, slot uint64) (*core.OrderSnapshot, error) {
	snap := &core.OrderSnapshot{
		Slot:    slot,
		Markets: append([]core.MarketID(nil), p.markets...),
		AMMs:    make(map[uint16]core.AMMState),
	}

	var mu sync.Mutex
	tasks := make([]func(context.Context) error, 0, len(p.markets))
	for _, id := range p.markets {
		id := id
		tasks = append(tasks, func(ctx context.Context) error {
			resp, err := p.fetchMarket(ctx, id, slot)
			if err != nil {
				return fmt.Errorf("market %s: %w", id, err)
			}
			orders := make([]core.Order, 0, len(resp.Orders))
			for i, o := range resp.Orders {
				order, err := o.toOrder(id)
				if err != nil {
					return fmt.Errorf("%w: market %s order %d: %w", apperrors.ErrInvalidSnapshot, id, i, err)
				}
				orders = append(orders, order)
			}

			mu.Lock()
			defer mu.Unlock()
			snap.Orders = append(snap.Orders, orders...)
			if resp.AMM != nil && id.IsPerp() {
				snap.AMMs[id.Index] = resp.AMM.toState(id.Index)
			}
			if slot == 0 && resp.Slot > snap.Slot {
				snap.Slot = resp.Slot
			}
			return nil
		})
	}

	if err := p.pool.RunAll(ctx, tasks...); err != nil {
		p.logger.Warn("Order snapshot fetch failed", "slot", slot, "error", err)
		return nil, err
	}

	p.logger.Debug("Fetched order snapshot", "slot", snap.Slot, "orders", len(snap.Orders), "markets", len(snap.Markets))
	return snap, nil
}

func (p *HTTPOrderProvider) fetchMarket(ctx context.Context, id core.MarketID, slot uint64) (*ordersResponse, error) {
	params := map[string]string{}
	if slot > 0 {
		params["slot"] = strconv.FormatUint(slot, 10)
	}
	body, err := p.client.Get(ctx, marketPath(id, "orders"), params)
	if err != nil {
		return nil, err
	}
	var resp ordersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode orders: %w", apperrors.ErrInvalidSnapshot, err)
	}
	return &resp, nil
}
