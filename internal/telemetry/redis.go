package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"go.uber.org/zap"
)

// RedisPublisher keeps the latest status under fixed keys and a bounded list
// of recent doses, and announces each dose on a pub/sub channel.
type RedisPublisher struct {
	client      *redis.Client
	prefix      string
	historySize int64
	logger      *zap.Logger
}

func NewRedisPublisher(cfg config.RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 100
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr()))
	return &RedisPublisher{
		client:      client,
		prefix:      cfg.Prefix,
		historySize: historySize,
		logger:      logger,
	}, nil
}

func (p *RedisPublisher) key(name string) string {
	return p.prefix + name
}

func (p *RedisPublisher) PublishSnapshot(ctx context.Context, snap control.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.key("status"), data, 0)
	pipe.Set(ctx, p.key("system_mode"), snap.System.String(), 0)
	pipe.Set(ctx, p.key("timestamp"), snap.Timestamp.UnixMilli(), 0)
	if r := snap.Reading; r.Valid {
		pipe.HSet(ctx, p.key("reading"),
			"ph", r.PH,
			"ec", r.EC,
			"volume_liters", r.VolumeLiters,
			"temperature_c", r.TemperatureC,
		)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write status to redis: %w", err)
	}
	return nil
}

func (p *RedisPublisher) PublishDose(ctx context.Context, ev dosing.DoseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode dose event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.LPush(ctx, p.key("doses"), data)
	pipe.LTrim(ctx, p.key("doses"), 0, p.historySize-1)
	pipe.Publish(ctx, p.key("events"), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write dose event to redis: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	p.logger.Info("Redis connection closed")
	return nil
}
