package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
)

// ActivityProducer publishes activity events to Kafka. Append never blocks:
// when the producer's input buffer is full the event is dropped and counted.
type ActivityProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
	dropped  atomic.Int64

	// mu orders sends on Input against AsyncClose closing it.
	mu     sync.RWMutex
	closed bool
}

var _ store.ActivityLog = (*ActivityProducer)(nil)

// NewActivityProducer connects an async producer to the configured brokers
func NewActivityProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*ActivityProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewActivityProducerFrom(producer, cfg.ActivityTopic, logger), nil
}

// NewActivityProducerFrom wraps an existing async producer
func NewActivityProducerFrom(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *ActivityProducer {
	p := &ActivityProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Warn("publishing activity event", "topic", p.topic, "error", err.Err)
		}
	}()
	return p
}

// Append publishes event keyed by player so a player's events stay ordered
func (p *ActivityProducer) Append(_ context.Context, event domain.ActivityEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshaling activity event", "player_id", event.PlayerID, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.PlayerID),
		Value: sarama.ByteEncoder(data),
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.producer.Input() <- msg:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("activity producer saturated, dropping event",
			"player_id", event.PlayerID,
			"action", event.Action,
			"dropped_total", n,
		)
	}
}

// Dropped returns how many events were discarded because the buffer was full
func (p *ActivityProducer) Dropped() int64 {
	return p.dropped.Load()
}

// Close flushes buffered events and stops the producer
func (p *ActivityProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.producer.AsyncClose()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
