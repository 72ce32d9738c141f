// README: Live positions delivered over Redis pub/sub, one channel per device.
package positioning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"navi/internal/types"
)

const positionChannelPrefix = "positions:%s"

type RedisSource struct {
	redis  *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisSource(client *redis.Client, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{redis: client, logger: logger, now: time.Now}
}

func PositionChannel(deviceID string) string {
	return fmt.Sprintf(positionChannelPrefix, deviceID)
}

// PublishPosition sends a fix to every session watching deviceID.
func PublishPosition(ctx context.Context, client *redis.Client, deviceID string, p types.Position) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return client.Publish(ctx, PositionChannel(deviceID), payload).Err()
}

func (s *RedisSource) Publish(ctx context.Context, deviceID string, p types.Position) error {
	return PublishPosition(ctx, s.redis, deviceID, p)
}

// Watch subscribes to the device channel. The subscription is confirmed
// before Watch returns, so fixes published afterwards are not missed.
func (s *RedisSource) Watch(ctx context.Context, opts WatchOptions) (Subscription, error) {
	if opts.DeviceID == "" {
		return nil, ErrMissingDevice
	}
	st := newStream(ctx, opts, s.now)

	pubsub := s.redis.Subscribe(st.ctx, PositionChannel(opts.DeviceID))
	if _, err := pubsub.Receive(st.ctx); err != nil {
		_ = pubsub.Close()
		st.Stop()
		return nil, NewSourceError(CodePositionUnavailable, err)
	}

	go s.pump(st, pubsub)
	return st, nil
}

func (s *RedisSource) pump(st *stream, pubsub *redis.PubSub) {
	defer pubsub.Close()
	msgs := pubsub.Channel()
	for {
		select {
		case <-st.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				st.fail(NewSourceError(CodePositionUnavailable, fmt.Errorf("channel %s closed", PositionChannel(st.opts.DeviceID))))
				return
			}
			var p types.Position
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				s.logger.Warn("discarding malformed position", "device_id", st.opts.DeviceID, "error", err)
				st.fail(NewSourceError(CodePositionUnavailable, err))
				continue
			}
			if !st.publish(p) {
				return
			}
		}
	}
}
