package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
)

const invalidateTimeout = 10 * time.Second

// Invalidator drops cached leaderboard pages
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Consumer reads the activity topic and invalidates the leaderboard cache
// once per batch that contains at least one completed game. Every instance
// uses its own consumer group so each one clears its view of the cache.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *claimHandler
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer joins cfg.GroupID on cfg.Brokers. Nothing is consumed until
// Start is called.
func NewConsumer(cfg *config.KafkaConfig, invalidator Invalidator, logger *slog.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_0_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group %s: %w", cfg.GroupID, err)
	}

	return &Consumer{
		group:   group,
		topics:  []string{cfg.ActivityTopic},
		handler: newClaimHandler(invalidator, cfg.BatchSize, cfg.BatchTimeout, logger),
		logger:  logger.With("group_id", cfg.GroupID),
		cancel:  func() {},
	}, nil
}

// Start consumes in the background and returns once the first group
// session is set up. It returns ctx's error if that takes too long.
func (c *Consumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", "error", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		// Consume returns on every rebalance; rejoin until stopped.
		for runCtx.Err() == nil {
			err := c.group.Consume(runCtx, c.topics, c.handler)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.Error("consume session ended", "error", err)
			}
		}
	}()

	select {
	case <-c.handler.ready:
		c.logger.Info("Kafka consumer ready", "topics", c.topics)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for consumer group session: %w", ctx.Err())
	}
}

// Stop leaves the group and waits for the background loops to exit.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// claimHandler implements sarama.ConsumerGroupHandler. One handler serves
// every session of the consumer.
type claimHandler struct {
	invalidator  Invalidator
	batchSize    int
	batchTimeout time.Duration
	logger       *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func newClaimHandler(inv Invalidator, batchSize int, batchTimeout time.Duration, logger *slog.Logger) *claimHandler {
	if batchSize < 1 {
		batchSize = 1
	}
	return &claimHandler{
		invalidator:  inv,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		logger:       logger,
		ready:        make(chan struct{}),
	}
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim collects completed games into batches bounded by size and
// time, and invalidates once per non-empty batch. Every message is marked,
// including ones that cannot be decoded.
func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	completed := 0
	timer := time.NewTimer(h.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if completed > 0 {
			h.invalidate(completed)
			completed = 0
		}
		timer.Reset(h.batchTimeout)
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-timer.C:
			flush()

		case msg, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			session.MarkMessage(msg, "")
			if !h.isCompletedGame(msg) {
				continue
			}
			if completed++; completed >= h.batchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush()
			}
		}
	}
}

func (h *claimHandler) isCompletedGame(msg *sarama.ConsumerMessage) bool {
	var event domain.ActivityEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Warn("skipping undecodable activity event",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return false
	}
	return event.Action == domain.ActionGameComplete
}

func (h *claimHandler) invalidate(events int) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	if err := h.invalidator.Invalidate(ctx); err != nil {
		h.logger.Error("failed to invalidate leaderboard", "batch_size", events, "error", err)
		return
	}
	h.logger.Debug("invalidated leaderboard", "batch_size", events)
}
