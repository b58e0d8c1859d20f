// Package feed publishes L2 snapshots of configured markets after every refresh
package feed

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/internal/dlob"
	"dlob_engine/internal/subscriber"
	"dlob_engine/pkg/telemetry"
	"errors"
	"time"
)

// Sink receives published L2 snapshots
type Sink interface {
	Name() string
	Publish(ctx context.Context, market string, book *core.L2OrderBook) error
}

// L2Source is the subset of subscriber.Subscriber the publisher needs
type L2Source interface {
	AddListener(name string, fn func(*dlob.Store)) func()
	GetDLOB() *dlob.Store
	GetL2FromStore(store *dlob.Store, req subscriber.L2Request) (*core.L2OrderBook, error)
}

// Options control what is published
type Options struct {
	Markets        []string
	Depth          int
	IncludeVAMM    bool
	PublishTimeout time.Duration
}

// Publisher builds an L2 view per configured market on each update and hands it to every sink
type Publisher struct {
	source  L2Source
	opts    Options
	sinks   []Sink
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	remove  func()
}

// NewPublisher creates a publisher; call Attach to start receiving updates
func NewPublisher(source L2Source, opts Options, sinks []Sink, logger core.ILogger) *Publisher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Publisher{
		source:  source,
		opts:    opts,
		sinks:   sinks,
		logger:  logger.WithField("component", "feed_publisher"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// Attach registers the publisher as an update listener
func (p *Publisher) Attach() {
	p.remove = p.source.AddListener("feed_publisher", func(store *dlob.Store) {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
		defer cancel()
		p.PublishStore(ctx, store)
	})
}

// Detach stops receiving updates
func (p *Publisher) Detach() {
	if p.remove != nil {
		p.remove()
	}
}

// PublishAll publishes the L2 view of every configured market from the live store
func (p *Publisher) PublishAll(ctx context.Context) error {
	return p.PublishStore(ctx, p.source.GetDLOB())
}

// PublishStore publishes the L2 view of every configured market built from store. A market
// that cannot be built is skipped; the joined sink errors are returned.
func (p *Publisher) PublishStore(ctx context.Context, store *dlob.Store) error {
	var errs []error
	for _, market := range p.opts.Markets {
		book, err := p.source.GetL2FromStore(store, subscriber.L2Request{
			MarketSelector: subscriber.ByName(market),
			Depth:          p.opts.Depth,
			IncludeVAMM:    p.opts.IncludeVAMM,
		})
		if err != nil {
			p.logger.Warn("Skipping feed market", "market", market, "error", err)
			continue
		}
		for _, sink := range p.sinks {
			err := sink.Publish(ctx, market, book)
			p.metrics.RecordPublish(ctx, sink.Name(), err)
			if err != nil {
				p.logger.Warn("Feed publish failed", "sink", sink.Name(), "market", market, "error", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
