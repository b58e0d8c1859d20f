package feed

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/internal/dlob"
	"dlob_engine/internal/subscriber"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "dlob_engine/pkg/apperrors"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Debug(msg string, fields ...interface{}) {}
func (m *mockLogger) Info(msg string, fields ...interface{})  {}
func (m *mockLogger) Warn(msg string, fields ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

type fakeSource struct {
	listener func(*dlob.Store)
	live     *dlob.Store
	requests []subscriber.L2Request
	stores   []*dlob.Store
}

func (f *fakeSource) AddListener(name string, fn func(*dlob.Store)) func() {
	f.listener = fn
	return func() { f.listener = nil }
}

func (f *fakeSource) GetDLOB() *dlob.Store {
	if f.live == nil {
		return dlob.Empty()
	}
	return f.live
}

func (f *fakeSource) GetL2FromStore(store *dlob.Store, req subscriber.L2Request) (*core.L2OrderBook, error) {
	f.requests = append(f.requests, req)
	f.stores = append(f.stores, store)
	if req.Name != "SOL-PERP" {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMarketNotFound, req.Name)
	}
	return &core.L2OrderBook{
		Market:      core.MarketID{Index: 0, Type: core.MarketTypePerp},
		Slot:        store.Slot(),
		OraclePrice: decimal.NewFromInt(100),
		Bids:        []core.L2Level{{Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(1), Cumulative: decimal.NewFromInt(1)}},
		Asks:        []core.L2Level{},
	}, nil
}

func storeAt(t *testing.T, slot uint64) *dlob.Store {
	t.Helper()
	store, err := dlob.NewStore(&core.OrderSnapshot{Slot: slot})
	require.NoError(t, err)
	return store
}

type recordingSink struct {
	name    string
	err     error
	markets []string
	books   []*core.L2OrderBook
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, market string, book *core.L2OrderBook) error {
	r.markets = append(r.markets, market)
	r.books = append(r.books, book)
	return r.err
}

func TestPublisher_PublishesOnUpdate(t *testing.T) {
	source := &fakeSource{}
	sink := &recordingSink{name: "memory"}
	logger := &mockLogger{}
	p := NewPublisher(source, Options{Markets: []string{"SOL-PERP", "BTC-PERP"}, Depth: 5, IncludeVAMM: true}, []Sink{sink}, logger)

	p.Attach()
	require.NotNil(t, source.listener)
	source.listener(dlob.Empty())

	assert.Equal(t, []string{"SOL-PERP"}, sink.markets)
	require.Len(t, source.requests, 2)
	assert.Equal(t, 5, source.requests[0].Depth)
	assert.True(t, source.requests[0].IncludeVAMM)
	assert.Contains(t, logger.warns, "Skipping feed market")

	p.Detach()
	assert.Nil(t, source.listener)
}

func TestPublisher_CollectsSinkErrors(t *testing.T) {
	boom := errors.New("sink down")
	failing := &recordingSink{name: "failing", err: boom}
	healthy := &recordingSink{name: "healthy"}
	p := NewPublisher(&fakeSource{}, Options{Markets: []string{"SOL-PERP"}}, []Sink{failing, healthy}, &mockLogger{})

	err := p.PublishAll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"SOL-PERP"}, healthy.markets)
}

func TestPublisher_BuildsFromNotifiedStore(t *testing.T) {
	notified := storeAt(t, 7)
	source := &fakeSource{live: storeAt(t, 9)}
	sink := &recordingSink{name: "memory"}
	p := NewPublisher(source, Options{Markets: []string{"SOL-PERP"}, Depth: 5}, []Sink{sink}, &mockLogger{})

	p.Attach()
	defer p.Detach()
	source.listener(notified)

	require.Len(t, source.stores, 1)
	assert.Same(t, notified, source.stores[0])
	require.Len(t, sink.books, 1)
	assert.Equal(t, uint64(7), sink.books[0].Slot)

	require.NoError(t, p.PublishAll(context.Background()))
	assert.Same(t, source.live, source.stores[1])
	assert.Equal(t, uint64(9), sink.books[1].Slot)
}

func TestKafkaSink_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var snap Snapshot
		if err := json.Unmarshal(val, &snap); err != nil {
			return err
		}
		if snap.Market != "SOL-PERP" || snap.MarketType != "perp" || snap.Book.Slot != 42 {
			return fmt.Errorf("unexpected snapshot %+v", snap)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkWithProducer(producer, "dlob.l2")
	book, _ := (&fakeSource{}).GetL2FromStore(storeAt(t, 42), subscriber.L2Request{MarketSelector: subscriber.ByName("SOL-PERP")})

	require.NoError(t, sink.Publish(context.Background(), "SOL-PERP", book))
	err := sink.Publish(context.Background(), "SOL-PERP", book)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, sink.Close())
}

func TestKafkaSink_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := NewKafkaSinkWithProducer(producer, "dlob.l2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Publish(ctx, "SOL-PERP", &core.L2OrderBook{}), context.Canceled)
	require.NoError(t, sink.Close())
}

type fakeBroadcaster struct{ accept bool }

func (f fakeBroadcaster) Publish(string, interface{}) bool { return f.accept }

func TestHubSink(t *testing.T) {
	assert.NoError(t, NewHubSink(fakeBroadcaster{accept: true}).Publish(context.Background(), "SOL-PERP", &core.L2OrderBook{}))
	assert.ErrorIs(t, NewHubSink(fakeBroadcaster{}).Publish(context.Background(), "SOL-PERP", &core.L2OrderBook{}), ErrFeedBackpressure)
}
