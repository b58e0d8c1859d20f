package subscriber

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/internal/dlob"
	"dlob_engine/pkg/telemetry"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

// Update is one notification: a freshly published store, or the error of a failed refresh
type Update struct {
	Store *dlob.Store
	Err   error
}

// signal is a queued refresh outcome tagged with the subscription generation that produced it
type signal struct {
	gen   uint64
	store *dlob.Store
	err   error
}

type listener struct {
	id       uint64
	name     string
	onUpdate func(*dlob.Store)
	onError  func(error)
	ch       chan Update
}

// broadcaster drains refresh signals in FIFO order and fans them out to listeners.
// The queue is unbounded; a high-water mark only raises a warning.
type broadcaster struct {
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder
	highWater int
	current   func() uint64

	qmu    sync.Mutex
	queue  deque.Deque[signal]
	warned bool
	notify chan struct{}

	lmu       sync.RWMutex
	listeners []*listener
	nextID    uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBroadcaster(logger core.ILogger, metrics *telemetry.MetricsHolder, highWater int, current func() uint64) *broadcaster {
	return &broadcaster{
		logger:    logger.WithField("component", "broadcaster"),
		metrics:   metrics,
		highWater: highWater,
		current:   current,
		queue:     deque.Deque[signal]{},
		notify:    make(chan struct{}, 1),
	}
}

// start runs the drain loop. Signals left over from an earlier subscription are
// dropped by the generation check.
func (b *broadcaster) start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.drainLoop(ctx)
}

// stop returns once the drain loop has exited; a delivery in progress completes first
func (b *broadcaster) stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.metrics.SetQueueDepth(0)
}

func (b *broadcaster) enqueue(s signal) {
	b.qmu.Lock()
	b.queue.PushBack(s)
	depth := b.queue.Len()
	if b.highWater > 0 && depth > b.highWater && !b.warned {
		b.warned = true
		b.logger.Warn("Broadcast queue above high-water mark", "depth", depth, "high_water", b.highWater)
	}
	b.qmu.Unlock()
	b.metrics.SetQueueDepth(depth)

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *broadcaster) pop() (signal, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.queue.Len() == 0 {
		return signal{}, false
	}
	s := b.queue.PopFront()
	if b.warned && b.queue.Len() <= b.highWater/2 {
		b.warned = false
	}
	b.metrics.SetQueueDepth(b.queue.Len())
	return s, true
}

func (b *broadcaster) drainLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}

		for {
			if ctx.Err() != nil {
				return
			}
			s, ok := b.pop()
			if !ok {
				break
			}
			if s.gen != b.current() {
				b.logger.Debug("Dropping signal from previous subscription", "generation", s.gen)
				continue
			}
			b.deliver(ctx, s)
		}
	}
}

func (b *broadcaster) deliver(ctx context.Context, s signal) {
	b.lmu.RLock()
	listeners := make([]*listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.lmu.RUnlock()

	if s.err != nil {
		b.logger.Error("Order book refresh failed", "error", s.err)
		b.metrics.RecordNotification(ctx, "error")
	} else {
		b.metrics.RecordNotification(ctx, "update")
	}

	for _, l := range listeners {
		switch {
		case l.ch != nil:
			select {
			case l.ch <- Update{Store: s.store, Err: s.err}:
			case <-ctx.Done():
				return
			}
		case s.err == nil && l.onUpdate != nil:
			b.invoke(l, func() { l.onUpdate(s.store) })
		case s.err != nil && l.onError != nil:
			b.invoke(l, func() { l.onError(s.err) })
		}
	}
}

func (b *broadcaster) invoke(l *listener, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Listener panicked", "listener", l.name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (b *broadcaster) add(l *listener) func() {
	b.lmu.Lock()
	b.nextID++
	l.id = b.nextID
	b.listeners = append(b.listeners, l)
	b.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(l.id) })
	}
}

func (b *broadcaster) remove(id uint64) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}
