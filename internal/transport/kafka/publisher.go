// Package kafka publishes committed ledger events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/ledger/crypto"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

const (
	eventTransaction = "transaction"
	eventBlock       = "block"
)

// Config selects the brokers and topic.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type envelope struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// Publisher writes one message per committed transaction or block.
type Publisher struct {
	writer  MessageWriter
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewPublisher builds a Publisher backed by a synchronous kafka-go writer.
func NewPublisher(cfg Config, metrics Metrics, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequireAll,
	}
	logger.Info("kafka publisher configured", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return newPublisher(writer, metrics, logger), nil
}

func newPublisher(writer MessageWriter, metrics Metrics, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer:  writer,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// PublishTransaction publishes a transaction keyed by its signature.
func (p *Publisher) PublishTransaction(ctx context.Context, tx model.Transaction) error {
	return p.publish(ctx, eventTransaction, tx.Signature, tx)
}

// PublishBlock publishes a block keyed by its hash.
func (p *Publisher) PublishBlock(ctx context.Context, block model.Block) error {
	hash, err := crypto.HashBlock(block)
	if err != nil {
		return fmt.Errorf("hash block %d: %w", block.Index, err)
	}
	return p.publish(ctx, eventBlock, hash, block)
}

// Close flushes pending writes and closes the connection.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, data any) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.Observe(eventType, err, start)
	}()

	value, err := json.Marshal(envelope{Type: eventType, Data: data, Time: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	if err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.Debug("event published", zap.String("type", eventType), zap.String("key", key))
	return nil
}
