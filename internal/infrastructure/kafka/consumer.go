package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	stderrors "errors"

	"github.com/segmentio/kafka-go"
	"github.com/velenik/payflow/internal/infrastructure/redis"
)

// Consumer watches the users topic and keeps the cached user listing
// coherent: a signup anywhere in the fleet invalidates the listing so
// the next search sees the new user.
type Consumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if stderrors.Is(err, context.Canceled) {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event struct {
			EventType string `json:"event_type"`
			UserID    string `json:"user_id"`
			Username  string `json:"username"`
			CreatedAt string `json:"created_at"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal user event", "error", err)
			continue
		}

		if event.EventType != "user_registered" {
			slog.Warn("unknown user event type", "event_type", event.EventType)
			continue
		}

		if err := c.redisClient.Del(ctx, "users:all"); err != nil {
			slog.Error("failed to invalidate user listing cache", "user_id", event.UserID, "error", err)
			continue
		}

		slog.Info("user listing cache invalidated", "user_id", event.UserID, "username", event.Username)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
