// Package subscriber keeps a live order book refreshed on a timer and serves L2/L3 views from it
package subscriber

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/internal/dlob"
	"dlob_engine/internal/liquidity"
	apperrors "dlob_engine/pkg/apperrors"
	"dlob_engine/pkg/telemetry"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a Subscriber
type State int32

const (
	StateIdle State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return "stopped"
	}
}

// Config controls refresh scheduling
type Config struct {
	UpdateFrequency time.Duration
	// RefreshTimeout bounds one rebuild; zero means UpdateFrequency
	RefreshTimeout time.Duration
	// QueueHighWater logs a warning when more signals than this are waiting; zero disables it
	QueueHighWater int
	// StopTimeout bounds how long Unsubscribe waits for the refresh loop
	StopTimeout           time.Duration
	TopOfBookQuoteAmounts []decimal.Decimal
}

// Deps are the collaborators of a Subscriber
type Deps struct {
	Provider core.IOrderStateProvider
	Slots    core.ISlotSource
	Markets  core.IMarketResolver
	Oracles  core.IOraclePriceProvider
	Logger   core.ILogger
}

// Subscriber owns the live Store. The refresh loop is its only writer; queries read the
// current pointer and never block on a refresh.
type Subscriber struct {
	cfg      Config
	provider core.IOrderStateProvider
	slots    core.ISlotSource
	markets  core.IMarketResolver
	oracles  core.IOraclePriceProvider
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder

	store       atomic.Pointer[dlob.Store]
	generation  atomic.Uint64
	refreshing  atomic.Bool
	lastRefresh atomic.Value // holds time.Time

	// lifecycle transitions; state is written under mu and read lock-free
	mu        sync.Mutex
	state     atomic.Int32
	cancel    context.CancelFunc
	stopWatch func() bool
	wg        sync.WaitGroup

	// serializes the generation check with the store swap and enqueue
	publishMu sync.Mutex

	bc *broadcaster
}

// New creates an idle Subscriber
func New(cfg Config, deps Deps) (*Subscriber, error) {
	if cfg.UpdateFrequency <= 0 {
		return nil, fmt.Errorf("%w: update frequency must be positive", apperrors.ErrInvalidConfiguration)
	}
	if deps.Provider == nil || deps.Slots == nil || deps.Oracles == nil || deps.Logger == nil {
		return nil, fmt.Errorf("%w: provider, slot source, oracle provider and logger are required", apperrors.ErrInvalidConfiguration)
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = cfg.UpdateFrequency
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	s := &Subscriber{
		cfg:      cfg,
		provider: deps.Provider,
		slots:    deps.Slots,
		markets:  deps.Markets,
		oracles:  deps.Oracles,
		logger:   deps.Logger.WithField("component", "dlob_subscriber"),
		metrics:  telemetry.GetGlobalMetrics(),
	}
	s.store.Store(dlob.Empty())
	s.lastRefresh.Store(time.Time{})
	s.bc = newBroadcaster(s.logger, s.metrics, cfg.QueueHighWater, s.generation.Load)
	return s, nil
}

// State returns the lifecycle state
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Subscribe performs one synchronous rebuild, publishes it, then starts periodic
// refreshes. It is a no-op while already active. A failed initial rebuild is returned
// and leaves the subscriber in its previous state. Cancelling ctx has the same effect
// as Unsubscribe, after which Subscribe may be called again.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateActive {
		return nil
	}

	gen := s.generation.Add(1)
	s.logger.Info("Subscribing", "generation", gen, "update_frequency", s.cfg.UpdateFrequency)

	store, err := s.rebuild(ctx)
	if err != nil {
		s.logger.Error("Initial order book build failed", "error", err)
		return err
	}
	s.publish(gen, store, nil, false)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.bc.start(runCtx)

	s.wg.Add(1)
	go s.refreshLoop(runCtx, gen)

	s.stopWatch = context.AfterFunc(ctx, func() { s.expire(gen) })

	s.state.Store(int32(StateActive))
	s.logger.Info("Subscribed", "slot", store.Slot(), "markets", len(store.Markets()))
	return nil
}

// Unsubscribe stops periodic refreshes. Once it returns no listener receives another
// notification, including for a refresh that was in flight. Listeners must not call
// Unsubscribe synchronously from their callback.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateActive {
		return
	}
	s.stopWatch()
	s.stopLocked("unsubscribe")
}

// expire stops generation gen after the context passed to Subscribe ended
func (s *Subscriber) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateActive || s.generation.Load() != gen {
		return
	}
	s.stopLocked("context done")
}

// stopLocked invalidates the current generation and waits for both loops; s.mu is held
func (s *Subscriber) stopLocked(reason string) {
	s.logger.Info("Unsubscribing", "reason", reason)

	s.publishMu.Lock()
	s.generation.Add(1)
	s.publishMu.Unlock()

	s.cancel()
	s.bc.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("Refresh loop stop timed out; its result will be discarded")
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("Unsubscribed")
}

// RefreshNow runs one refresh outside the timer. It fails with ErrRefreshInProgress
// when a refresh is already running and ErrNotSubscribed when inactive.
func (s *Subscriber) RefreshNow(ctx context.Context) error {
	s.mu.Lock()
	if s.State() != StateActive {
		s.mu.Unlock()
		return apperrors.ErrNotSubscribed
	}
	gen := s.generation.Load()
	s.mu.Unlock()

	return s.refreshOnce(ctx, gen)
}

func (s *Subscriber) refreshLoop(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.UpdateFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Refresh loop stopped", "generation", gen)
			return
		case <-ticker.C:
			if err := s.refreshOnce(ctx, gen); errors.Is(err, apperrors.ErrRefreshInProgress) {
				s.logger.Debug("Skipping tick, refresh still running")
			}
		}
	}
}

func (s *Subscriber) refreshOnce(ctx context.Context, gen uint64) error {
	if !s.refreshing.CompareAndSwap(false, true) {
		return apperrors.ErrRefreshInProgress
	}
	defer s.refreshing.Store(false)

	store, err := s.rebuild(ctx)
	if err != nil && ctx.Err() != nil {
		// cancelled by Unsubscribe; nothing to report
		return err
	}
	s.publish(gen, store, err, true)
	return err
}

func (s *Subscriber) rebuild(ctx context.Context) (*dlob.Store, error) {
	slot := s.slots.CurrentSlot()
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	start := time.Now()
	store, err := dlob.Rebuild(rctx, s.provider, slot)
	s.metrics.RecordRefresh(ctx, time.Since(start), err)
	return store, err
}

// publish swaps a successful store in and queues the outcome, unless gen is stale
func (s *Subscriber) publish(gen uint64, store *dlob.Store, err error, notify bool) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if s.generation.Load() != gen {
		s.logger.Debug("Discarding refresh from previous subscription", "generation", gen)
		return
	}

	if err == nil {
		s.store.Store(store)
		s.lastRefresh.Store(time.Now())
		s.recordStore(store)
	}
	if notify {
		s.bc.enqueue(signal{gen: gen, store: store, err: err})
	}
}

func (s *Subscriber) recordStore(store *dlob.Store) {
	counts := make(map[string]int64)
	for _, id := range store.Markets() {
		book, _ := store.Market(id)
		counts[id.String()] = int64(book.OrderCount())
	}
	s.metrics.SetRestingOrders(counts)
	s.metrics.SetLastSlot(store.Slot())
}

// AddListener registers fn for successful refreshes. Listeners run on the broadcast
// goroutine in registration order. The returned func removes the listener.
func (s *Subscriber) AddListener(name string, fn func(*dlob.Store)) func() {
	return s.bc.add(&listener{name: name, onUpdate: fn})
}

// OnError registers fn for failed refreshes
func (s *Subscriber) OnError(name string, fn func(error)) func() {
	return s.bc.add(&listener{name: name, onError: fn})
}

// Updates returns a channel receiving every refresh outcome in order. The channel is
// never closed; call cancel to stop delivery. A full channel stalls the broadcaster.
func (s *Subscriber) Updates(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)
	cancel := s.bc.add(&listener{name: "updates", ch: ch})
	return ch, cancel
}

// GetDLOB returns the live store. It is empty until the first Subscribe succeeds.
func (s *Subscriber) GetDLOB() *dlob.Store {
	return s.store.Load()
}

// GetL2 builds a price-aggregated view of one market from the live store
func (s *Subscriber) GetL2(req L2Request) (*core.L2OrderBook, error) {
	return s.GetL2FromStore(s.store.Load(), req)
}

// GetL2FromStore builds the L2 view of one market from the given store, which is usually
// the one handed to an update listener. Oracle prices are read at call time.
func (s *Subscriber) GetL2FromStore(store *dlob.Store, req L2Request) (*core.L2OrderBook, error) {
	if req.IncludeVAMM && len(req.FallbackGenerators) > 0 {
		return nil, apperrors.ErrConflictingLiquiditySources
	}
	if req.Depth < 0 {
		return nil, fmt.Errorf("%w: negative depth %d", apperrors.ErrInvalidConfiguration, req.Depth)
	}
	if store == nil {
		return nil, apperrors.ErrNotSubscribed
	}

	id, err := req.resolve(s.markets)
	if err != nil {
		return nil, err
	}
	oracle, err := s.oraclePrice(id)
	if err != nil {
		return nil, err
	}

	book, ok := store.Market(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMarketNotFound, id)
	}

	generators := req.FallbackGenerators
	if req.IncludeVAMM && id.IsPerp() {
		numOrders := req.Depth
		if req.NumVAMMOrders != nil {
			numOrders = *req.NumVAMMOrders
		}
		amm, _ := store.AMM(id.Index)
		vamm, err := liquidity.NewVAMMGenerator(amm, numOrders, s.cfg.TopOfBookQuoteAmounts)
		if err != nil {
			return nil, fmt.Errorf("vamm for %s: %w", id, err)
		}
		generators = []core.ILiquidityGenerator{vamm}
	}

	return dlob.BuildL2(book, dlob.L2Params{
		Slot:        store.Slot(),
		OraclePrice: oracle.Price,
		Depth:       req.Depth,
		Generators:  generators,
	}), nil
}

// GetL3 returns every resting order of one market from the live store
func (s *Subscriber) GetL3(sel MarketSelector) (*core.L3OrderBook, error) {
	id, err := sel.resolve(s.markets)
	if err != nil {
		return nil, err
	}
	oracle, err := s.oraclePrice(id)
	if err != nil {
		return nil, err
	}

	store := s.store.Load()
	book, ok := store.Market(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMarketNotFound, id)
	}
	return dlob.BuildL3(book, store.Slot(), oracle.Price), nil
}

func (s *Subscriber) oraclePrice(id core.MarketID) (core.OraclePrice, error) {
	p, err := s.oracles.PriceFor(id)
	if err != nil {
		if errors.Is(err, apperrors.ErrOraclePriceUnavailable) {
			return core.OraclePrice{}, fmt.Errorf("%s: %w", id, err)
		}
		return core.OraclePrice{}, fmt.Errorf("%w: %s: %w", apperrors.ErrOraclePriceUnavailable, id, err)
	}
	return p, nil
}

// CheckHealth returns an error if the subscriber is inactive or its store is stale
func (s *Subscriber) CheckHealth() error {
	if s.State() != StateActive {
		return fmt.Errorf("dlob subscriber is not active")
	}
	last := s.lastRefresh.Load().(time.Time)
	if last.IsZero() {
		return fmt.Errorf("no order book published yet")
	}
	if age := time.Since(last); age > 5*s.cfg.UpdateFrequency+s.cfg.RefreshTimeout {
		return fmt.Errorf("stale order book: last refresh %s ago", age.Round(time.Millisecond))
	}
	return nil
}
