package feed

import (
	"context"
	"dlob_engine/internal/core"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Snapshot is the Kafka record value for one market
type Snapshot struct {
	Market      string            `json:"market"`
	MarketIndex uint16            `json:"market_index"`
	MarketType  string            `json:"market_type"`
	PublishedAt int64             `json:"published_at_ms"`
	Book        *core.L2OrderBook `json:"book"`
}

// KafkaSink writes L2 snapshots to a topic, keyed by market name
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to the brokers
func NewKafkaSink(brokers []string, topic, clientID string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

// Publish sends one snapshot. The producer call is synchronous and does not observe ctx.
func (k *KafkaSink) Publish(ctx context.Context, market string, book *core.L2OrderBook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(Snapshot{
		Market:      market,
		MarketIndex: book.Market.Index,
		MarketType:  book.Market.Type.String(),
		PublishedAt: time.Now().UnixMilli(),
		Book:        book,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(market),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("kafka send %s: %w", market, err)
	}
	return nil
}

// Close flushes and closes the producer
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
