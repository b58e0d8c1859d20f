// Package dlob holds the immutable order book store and the L2/L3 view builders
package dlob

import (
	"cmp"
	"context"
	"dlob_engine/internal/core"
	apperrors "dlob_engine/pkg/apperrors"
	"fmt"
	"iter"
	"slices"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/shopspring/decimal"
)

// PriceLevel groups the resting orders of one side at a single price
type PriceLevel struct {
	Price  decimal.Decimal
	Size   decimal.Decimal
	Orders []core.Order
}

// MarketBook is the per-market partition of a Store. It is never mutated after build.
type MarketBook struct {
	id       core.MarketID
	bids     []PriceLevel
	asks     []PriceLevel
	triggers []core.Order
}

// ID returns the market this book belongs to
func (b *MarketBook) ID() core.MarketID {
	return b.id
}

// Levels returns the price levels of a side, best price first
func (b *MarketBook) Levels(side core.Side) []PriceLevel {
	if b == nil {
		return nil
	}
	if side == core.SideBid {
		return b.bids
	}
	return b.asks
}

// Bids returns resting bids ordered by price desc, slot asc
func (b *MarketBook) Bids() []core.Order {
	return flatten(b.Levels(core.SideBid))
}

// Asks returns resting asks ordered by price asc, slot asc
func (b *MarketBook) Asks() []core.Order {
	return flatten(b.Levels(core.SideAsk))
}

// TriggerOrders returns the conditional orders of the market; they never rest on the book
func (b *MarketBook) TriggerOrders() []core.Order {
	if b == nil {
		return nil
	}
	return b.triggers
}

// BestBid returns the highest bid price
func (b *MarketBook) BestBid() (decimal.Decimal, bool) {
	return best(b.Levels(core.SideBid))
}

// BestAsk returns the lowest ask price
func (b *MarketBook) BestAsk() (decimal.Decimal, bool) {
	return best(b.Levels(core.SideAsk))
}

// OrderCount returns the number of resting orders on both sides
func (b *MarketBook) OrderCount() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, lvl := range b.bids {
		n += len(lvl.Orders)
	}
	for _, lvl := range b.asks {
		n += len(lvl.Orders)
	}
	return n
}

// RestingLevels yields the side's price levels as liquidity levels tagged with the dlob source
func (b *MarketBook) RestingLevels(side core.Side) iter.Seq[core.LiquidityLevel] {
	levels := b.Levels(side)
	return func(yield func(core.LiquidityLevel) bool) {
		for _, lvl := range levels {
			if !yield(core.LiquidityLevel{Price: lvl.Price, Size: lvl.Size, Source: core.SourceDLOB}) {
				return
			}
		}
	}
}

func flatten(levels []PriceLevel) []core.Order {
	n := 0
	for _, lvl := range levels {
		n += len(lvl.Orders)
	}
	out := make([]core.Order, 0, n)
	for _, lvl := range levels {
		out = append(out, lvl.Orders...)
	}
	return out
}

func best(levels []PriceLevel) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	return levels[0].Price, true
}

// Store is a point-in-time, immutable order book of every known market.
// A Store is built wholesale from one snapshot and replaced, never patched.
type Store struct {
	slot       uint64
	markets    map[core.MarketID]*MarketBook
	ids        []core.MarketID
	amms       map[uint16]core.AMMState
	orderCount int
}

// Empty returns a store with no markets at slot 0
func Empty() *Store {
	return &Store{
		markets: make(map[core.MarketID]*MarketBook),
		amms:    make(map[uint16]core.AMMState),
	}
}

// Slot returns the slot the store was built at
func (s *Store) Slot() uint64 {
	return s.slot
}

// Markets returns the known markets ordered by type then index
func (s *Store) Markets() []core.MarketID {
	return slices.Clone(s.ids)
}

// Market returns the book of a market
func (s *Store) Market(id core.MarketID) (*MarketBook, bool) {
	b, ok := s.markets[id]
	return b, ok
}

// AMM returns the virtual AMM state of a perp market, if the snapshot carried one
func (s *Store) AMM(marketIndex uint16) (*core.AMMState, bool) {
	a, ok := s.amms[marketIndex]
	if !ok {
		return nil, false
	}
	return &a, true
}

// OrderCount returns the number of resting orders across all markets
func (s *Store) OrderCount() int {
	return s.orderCount
}

// Rebuild fetches the full order state at slot and builds a new Store from it.
// It either returns a complete Store or an error; there is no partial result.
func Rebuild(ctx context.Context, provider core.IOrderStateProvider, slot uint64) (*Store, error) {
	snap, err := provider.Fetch(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: provider returned no snapshot", apperrors.ErrSourceUnavailable)
	}
	if snap.Slot == 0 {
		// the snapshot belongs to the provider
		stamped := *snap
		stamped.Slot = slot
		snap = &stamped
	}
	return NewStore(snap)
}

type ownerSlot struct {
	owner string
	slot  uint64
}

type sideBuilder struct {
	tree *rbt.Tree[decimal.Decimal, *PriceLevel]
	seen map[ownerSlot]struct{}
}

func newSideBuilder(side core.Side) *sideBuilder {
	comparator := func(a, b decimal.Decimal) int { return a.Cmp(b) }
	if side == core.SideBid {
		comparator = func(a, b decimal.Decimal) int { return b.Cmp(a) }
	}
	return &sideBuilder{
		tree: rbt.NewWith[decimal.Decimal, *PriceLevel](comparator),
		seen: make(map[ownerSlot]struct{}),
	}
}

func (sb *sideBuilder) add(o core.Order) error {
	key := ownerSlot{owner: o.Owner, slot: o.Slot}
	if _, dup := sb.seen[key]; dup {
		return fmt.Errorf("%w: duplicate %s order for owner %s at slot %d in %s",
			apperrors.ErrInvalidSnapshot, o.Side, o.Owner, o.Slot, o.Market)
	}
	sb.seen[key] = struct{}{}

	lvl, found := sb.tree.Get(o.Price)
	if !found {
		lvl = &PriceLevel{Price: o.Price, Size: decimal.Zero}
		sb.tree.Put(o.Price, lvl)
	}
	lvl.Size = lvl.Size.Add(o.Size)
	lvl.Orders = append(lvl.Orders, o)
	return nil
}

func (sb *sideBuilder) build() []PriceLevel {
	out := make([]PriceLevel, 0, sb.tree.Size())
	for _, lvl := range sb.tree.Values() {
		slices.SortFunc(lvl.Orders, compareTimePriority)
		out = append(out, *lvl)
	}
	return out
}

// compareTimePriority orders by placement slot, then owner, then order id
func compareTimePriority(a, b core.Order) int {
	if c := cmp.Compare(a.Slot, b.Slot); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Owner, b.Owner); c != 0 {
		return c
	}
	return cmp.Compare(a.OrderID, b.OrderID)
}

func compareMarketID(a, b core.MarketID) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// NewStore validates a snapshot and builds an immutable Store from it
func NewStore(snap *core.OrderSnapshot) (*Store, error) {
	type builders struct {
		bids, asks *sideBuilder
		triggers   []core.Order
	}
	byMarket := make(map[core.MarketID]*builders)
	ensure := func(id core.MarketID) *builders {
		b, ok := byMarket[id]
		if !ok {
			b = &builders{bids: newSideBuilder(core.SideBid), asks: newSideBuilder(core.SideAsk)}
			byMarket[id] = b
		}
		return b
	}

	for _, id := range snap.Markets {
		ensure(id)
	}

	for _, o := range snap.Orders {
		if o.Price.IsNegative() || o.Size.IsNegative() {
			return nil, fmt.Errorf("%w: negative price or size for order %d of %s in %s",
				apperrors.ErrInvalidSnapshot, o.OrderID, o.Owner, o.Market)
		}
		b := ensure(o.Market)
		if o.Size.IsZero() {
			continue
		}
		if o.Kind == core.OrderKindTrigger {
			b.triggers = append(b.triggers, o)
			continue
		}
		sb := b.asks
		if o.Side == core.SideBid {
			sb = b.bids
		}
		if err := sb.add(o); err != nil {
			return nil, err
		}
	}

	store := &Store{
		slot:    snap.Slot,
		markets: make(map[core.MarketID]*MarketBook, len(byMarket)),
		ids:     make([]core.MarketID, 0, len(byMarket)),
		amms:    make(map[uint16]core.AMMState, len(snap.AMMs)),
	}
	for id, b := range byMarket {
		slices.SortFunc(b.triggers, compareTimePriority)
		book := &MarketBook{
			id:       id,
			bids:     b.bids.build(),
			asks:     b.asks.build(),
			triggers: b.triggers,
		}
		store.markets[id] = book
		store.ids = append(store.ids, id)
		store.orderCount += book.OrderCount()
	}
	slices.SortFunc(store.ids, compareMarketID)

	for idx, amm := range snap.AMMs {
		store.amms[idx] = amm
	}
	return store, nil
}
