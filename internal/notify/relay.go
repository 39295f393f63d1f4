package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

// RedisRelay publishes alerts to the local bus and to a Redis channel, and
// replays alerts published by other replicas onto the local bus.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	bus     *Bus
	logger  *logging.Logger
}

// NewRedisRelay creates a relay for channel.
func NewRedisRelay(client *redis.Client, channel string, bus *Bus, logger *logging.Logger) *RedisRelay {
	if logger == nil {
		logger = logging.Default()
	}
	if channel == "" {
		channel = "practice:alerts"
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		bus:     bus,
		logger:  logger,
	}
}

// Publish delivers locally and forwards to Redis. It reports local deliveries.
func (r *RedisRelay) Publish(alert Alert) int {
	delivered := r.bus.Publish(alert)

	alert.Origin = r.origin
	payload, err := json.Marshal(alert)
	if err != nil {
		r.logger.Error("alert relay marshal failed", "error", err)
		return delivered
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("alert relay publish failed", "account_id", alert.AccountID, "error", err)
	}
	return delivered
}

// Run replays remote alerts until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("alert relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var alert Alert
			if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
				r.logger.Warn("alert relay decode failed", "error", err)
				continue
			}
			if alert.Origin == r.origin {
				continue
			}
			r.bus.Publish(alert)
		}
	}
}
