package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/example/classboard/internal/logging"
)

// DefaultChannelPrefix prefixes the per-school pub/sub channels.
const DefaultChannelPrefix = "classboard:notifications:"

// RedisOptions configures the redis backed feed.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient builds a client from the options.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// RedisFeed publishes notifications on one redis channel per school and
// subscribes to all of them with a pattern subscription.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisFeed wraps an existing client.
func NewRedisFeed(client *redis.Client, prefix string, logger *slog.Logger) *RedisFeed {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisFeed{client: client, prefix: prefix, logger: logging.Component(logger, "redis_feed")}
}

// Channel returns the pub/sub channel for a school.
func (f *RedisFeed) Channel(schoolID string) string {
	return f.prefix + schoolID
}

// Ping checks connectivity.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Publish sends the notification on the school's channel.
func (f *RedisFeed) Publish(ctx context.Context, n Notification) error {
	payload, err := Encode(n)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.Channel(n.SchoolID), payload).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on every school channel until ctx is cancelled.
// Undecodable messages are logged and skipped.
func (f *RedisFeed) Subscribe(ctx context.Context, handler func(context.Context, Notification)) error {
	pubsub := f.client.PSubscribe(ctx, f.prefix+"*")
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: redis subscribe: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ErrFeedClosed
			}
			n, err := Decode([]byte(msg.Payload))
			if err != nil {
				f.logger.WarnContext(ctx, "dropping undecodable notification", "channel", msg.Channel, "error", err)
				continue
			}
			if school := strings.TrimPrefix(msg.Channel, f.prefix); school != n.SchoolID {
				f.logger.WarnContext(ctx, "dropping notification published on another school's channel", "channel", msg.Channel, "school_id", n.SchoolID)
				continue
			}
			handler(ctx, n)
		}
	}
}

// Close releases the client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
