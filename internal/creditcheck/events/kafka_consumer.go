package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrSkip tells the consumer that a message is settled even though it was not
// processed, so it is committed and not redelivered.
var ErrSkip = errors.New("skip message")

type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PurchaseHandler processes one purchase request.
type PurchaseHandler func(context.Context, *models.PurchaseRequest) error

// Consumer reads purchase requests from a topic. A message whose handler fails
// is logged and not committed. The next commit on the partition moves past it,
// so it is redelivered only when the group restarts before that commit.
type Consumer struct {
	reader  KafkaReader
	logger  *zap.Logger
	handler PurchaseHandler
	wg      sync.WaitGroup
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
		Dialer:  kafka.DefaultDialer,
	}), logger)
}

func newConsumer(reader KafkaReader, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: logger.Named("kafka_consumer"),
	}
}

func (c *Consumer) RegisterHandler(fn PurchaseHandler) {
	c.handler = fn
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Failed to fetch message", zap.Error(err))
				continue
			}
			c.handleMessage(ctx, msg)
		}
	}()
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	var req models.PurchaseRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.logger.Error("Failed to parse purchase request",
			zap.Error(err),
			zap.ByteString("value", msg.Value),
		)
		c.commit(ctx, msg)
		return
	}

	if err := c.handler(ctx, &req); err != nil {
		fields := []zap.Field{
			zap.Error(err),
			zap.Int64("client_id", req.ClientID),
			zap.String("corporation_number", req.CorporationNumber),
		}
		if !errors.Is(err, ErrSkip) {
			c.logger.Error("Failed to handle purchase request", fields...)
			return
		}
		c.logger.Warn("Skipping purchase request", fields...)
	}

	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("Failed to commit message",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
		)
	}
}

// Close waits for the consume loop to exit, then closes the reader. Cancel the
// context passed to Start first.
func (c *Consumer) Close() {
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka reader", zap.Error(err))
	}
}
