// Package redis publishes bars, indicator sets, pattern hits and sync
// status to Redis for downstream consumers: streams for history, latest
// keys for quick reads, pubsub for live subscribers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketcore/internal/indicator"
	"marketcore/internal/model"
	"marketcore/internal/pattern"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// Streams are trimmed to roughly the synchronizer's retention window.
	streamRetention = 24 * time.Hour
	minStreamLen    = 200
)

// Config configures the publisher's Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Publisher writes market-data snapshots to Redis.
type Publisher struct {
	client *goredis.Client
	log    *slog.Logger
}

// New creates a Publisher and pings the server.
func New(cfg Config, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info("redis publisher connected", "addr", cfg.Addr)
	return &Publisher{client: client, log: log.With("component", "redis")}, nil
}

// Client exposes the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// RunBars consumes bars from ch and publishes each one. Blocks until ctx is
// cancelled or ch closes.
func (p *Publisher) RunBars(ctx context.Context, ch <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-ch:
			if !ok {
				return
			}
			p.PublishBar(ctx, bar)
		}
	}
}

// PublishBar pipelines XADD + SET latest + PUBLISH for one bar. Stream
// length is trimmed proportionally to the timeframe so every stream holds
// about one retention window of bars.
func (p *Publisher) PublishBar(ctx context.Context, bar model.Bar) error {
	jsonData := string(bar.JSON())
	streamKey := bar.StreamKey()
	latestKey := "bar:" + string(bar.Timeframe) + ":latest:" + bar.Symbol
	pubsubCh := "pub:" + streamKey

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen(bar.Timeframe),
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("bar pipeline failed", "key", bar.Key(), "err", err)
		return err
	}
	return nil
}

// PublishIndicators stores the latest indicator set for a symbol/timeframe
// and notifies subscribers.
func (p *Publisher) PublishIndicators(ctx context.Context, symbol string, tf model.Timeframe, set indicator.Set) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal indicator set: %w", err)
	}
	jsonData := string(data)
	latestKey := "ind:" + string(tf) + ":latest:" + symbol
	pubsubCh := "pub:ind:" + string(tf) + ":" + symbol

	pipe := p.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("indicator pipeline failed", "symbol", symbol, "tf", tf, "err", err)
		return err
	}
	return nil
}

// PublishPatterns stores the latest pattern collection for a
// symbol/timeframe and notifies subscribers.
func (p *Publisher) PublishPatterns(ctx context.Context, symbol string, tf model.Timeframe, col *pattern.Collection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("marshal pattern collection: %w", err)
	}
	jsonData := string(data)
	latestKey := "pattern:" + string(tf) + ":latest:" + symbol
	pubsubCh := "pub:pattern:" + string(tf) + ":" + symbol

	pipe := p.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("pattern pipeline failed", "symbol", symbol, "tf", tf, "err", err)
		return err
	}
	return nil
}

// PublishSyncStatus stores the per-timeframe sync statuses for monitoring.
func (p *Publisher) PublishSyncStatus(ctx context.Context, symbol string, statuses map[model.Timeframe]model.SyncStatus) error {
	data, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("marshal sync status: %w", err)
	}
	if err := p.client.Set(ctx, "sync:status:"+symbol, string(data), defaultLatestTTL).Err(); err != nil {
		p.log.Warn("sync status write failed", "symbol", symbol, "err", err)
		return err
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// streamMaxLen sizes a stream's approximate trim bound to one retention
// window of bars for the timeframe.
func streamMaxLen(tf model.Timeframe) int64 {
	d := tf.Duration()
	if d <= 0 {
		return minStreamLen
	}
	maxLen := int64(streamRetention/d) + 100
	if maxLen < minStreamLen {
		maxLen = minStreamLen
	}
	return maxLen
}
