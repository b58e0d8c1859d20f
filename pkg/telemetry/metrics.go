package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRefreshTotal       = "dlob_refresh_total"
	MetricRefreshDuration    = "dlob_refresh_duration_ms"
	MetricNotificationsTotal = "dlob_notifications_total"
	MetricQueueDepth         = "dlob_broadcast_queue_depth"
	MetricOrdersResting      = "dlob_orders_resting"
	MetricLastSlot           = "dlob_last_slot"
	MetricOracleAge          = "dlob_oracle_age_ms"
	MetricFeedPublishedTotal = "dlob_feed_published_total"
	MetricFeedFailuresTotal  = "dlob_feed_failures_total"
	MetricCircuitBreakerOpen = "dlob_circuit_breaker_open"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	RefreshTotal       metric.Int64Counter
	RefreshDuration    metric.Float64Histogram
	NotificationsTotal metric.Int64Counter
	FeedPublishedTotal metric.Int64Counter
	FeedFailuresTotal  metric.Int64Counter
	QueueDepth         metric.Int64ObservableGauge
	OrdersResting      metric.Int64ObservableGauge
	LastSlot           metric.Int64ObservableGauge
	OracleAge          metric.Float64ObservableGauge
	CircuitBreakerOpen metric.Int64ObservableGauge

	// State for observable gauges
	mu           sync.RWMutex
	queueDepth   int64
	lastSlot     int64
	ordersMap    map[string]int64
	oracleSeenAt map[string]time.Time
	cbOpenMap    map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Its instruments are bound to the
// global meter provider, so they start reporting once Setup installs the real one.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
		if err := globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("dlob_engine")); err != nil {
			otel.Handle(err)
		}
	})
	return globalMetrics
}

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		ordersMap:    make(map[string]int64),
		oracleSeenAt: make(map[string]time.Time),
		cbOpenMap:    make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RefreshTotal, err = meter.Int64Counter(MetricRefreshTotal, metric.WithDescription("Order book refreshes by result"))
	if err != nil {
		return err
	}

	m.RefreshDuration, err = meter.Float64Histogram(MetricRefreshDuration, metric.WithDescription("Duration of order book rebuilds"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.NotificationsTotal, err = meter.Int64Counter(MetricNotificationsTotal, metric.WithDescription("Notifications delivered to listeners by kind"))
	if err != nil {
		return err
	}

	m.FeedPublishedTotal, err = meter.Int64Counter(MetricFeedPublishedTotal, metric.WithDescription("L2 snapshots published by sink"))
	if err != nil {
		return err
	}

	m.FeedFailuresTotal, err = meter.Int64Counter(MetricFeedFailuresTotal, metric.WithDescription("L2 snapshot publish failures by sink"))
	if err != nil {
		return err
	}

	// Observables
	m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth, metric.WithDescription("Signals waiting in the broadcast queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		}))
	if err != nil {
		return err
	}

	m.OrdersResting, err = meter.Int64ObservableGauge(MetricOrdersResting, metric.WithDescription("Resting orders in the live store per market"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, val := range m.ordersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.LastSlot, err = meter.Int64ObservableGauge(MetricLastSlot, metric.WithDescription("Slot of the live store"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.lastSlot)
			return nil
		}))
	if err != nil {
		return err
	}

	m.OracleAge, err = meter.Float64ObservableGauge(MetricOracleAge, metric.WithDescription("Age of the cached oracle price"), metric.WithUnit("ms"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, seen := range m.oracleSeenAt {
				obs.Observe(float64(time.Since(seen).Milliseconds()), metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("breaker", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// RecordRefresh counts a refresh attempt and its duration
func (m *MetricsHolder) RecordRefresh(ctx context.Context, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.RefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.RefreshDuration.Record(ctx, float64(d.Milliseconds()))
}

// RecordNotification counts a delivered notification of the given kind (update or error)
func (m *MetricsHolder) RecordNotification(ctx context.Context, kind string) {
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPublish counts a feed publish attempt on a sink
func (m *MetricsHolder) RecordPublish(ctx context.Context, sink string, err error) {
	attrs := metric.WithAttributes(attribute.String("sink", sink))
	if err != nil {
		m.FeedFailuresTotal.Add(ctx, 1, attrs)
		return
	}
	m.FeedPublishedTotal.Add(ctx, 1, attrs)
}

// Helpers to update observable state

func (m *MetricsHolder) SetQueueDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = int64(depth)
}

func (m *MetricsHolder) SetLastSlot(slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSlot = int64(slot)
}

// SetRestingOrders replaces the per-market order counts
func (m *MetricsHolder) SetRestingOrders(counts map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersMap = make(map[string]int64, len(counts))
	for k, v := range counts {
		m.ordersMap[k] = v
	}
}

func (m *MetricsHolder) SetOracleObserved(market string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oracleSeenAt[market] = at
}

func (m *MetricsHolder) SetCircuitBreakerOpen(name string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[name] = val
}

func (m *MetricsHolder) GetQueueDepth() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueDepth
}

func (m *MetricsHolder) GetLastSlot() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSlot
}

func (m *MetricsHolder) GetRestingOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.ordersMap {
		res[k] = v
	}
	return res
}
