package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/realtime"
)

const defaultChannel = "video_jobs"

type RedisConfig struct {
	Addr    string
	Channel string
}

// RedisConfigFromEnv reads REDIS_ADDR and REDIS_CHANNEL. An empty Addr disables the bus.
func RedisConfigFromEnv() RedisConfig {
	return RedisConfig{
		Addr:    strings.TrimSpace(envutil.String("REDIS_ADDR", "")),
		Channel: strings.TrimSpace(envutil.String("REDIS_CHANNEL", defaultChannel)),
	}
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(log *logger.Logger, cfg RedisConfig) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("service", "RedisJobBus"),
		rdb:     rdb,
		channel: cfg.Channel,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := Encode(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				msg, err := Decode([]byte(m.Payload))
				if err != nil {
					b.log.Warn("bad redis job payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func Encode(msg realtime.Message) ([]byte, error) {
	if strings.TrimSpace(msg.Event) == "" {
		return nil, fmt.Errorf("message event required")
	}
	return json.Marshal(msg)
}

func Decode(raw []byte) (realtime.Message, error) {
	var msg realtime.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return realtime.Message{}, err
	}
	if msg.Event == "" {
		return realtime.Message{}, fmt.Errorf("message event missing")
	}
	return msg, nil
}
