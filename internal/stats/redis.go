package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobwatch/internal/model"
)

const (
	defaultPrefix = "jobwatch"
	runTTL        = 7 * 24 * time.Hour
)

// Redis is a Recorder that shares run history between processes. Runs are
// stored as JSON under <prefix>:run:<id> and indexed by start time in the
// sorted set <prefix>:runs.
type Redis struct {
	rdb    *redis.Client
	prefix string
	cap    int
}

var _ Recorder = (*Redis)(nil)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return rdb, nil
}

// NewRedis creates a Redis recorder. An empty prefix uses "jobwatch".
func NewRedis(rdb *redis.Client, prefix string, capacity int) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Redis{rdb: rdb, prefix: prefix, cap: capacity}
}

func (r *Redis) runKey(id string) string { return r.prefix + ":run:" + id }
func (r *Redis) indexKey() string        { return r.prefix + ":runs" }

// Record stores run and trims the index to the recorder's capacity.
func (r *Redis) Record(ctx context.Context, run model.RunStats) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.runKey(run.ID), data, runTTL)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(run.StartedAt.UnixMilli()), Member: run.ID})
		pipe.ZRemRangeByRank(ctx, r.indexKey(), 0, int64(-r.cap-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Get returns the run with the given id.
func (r *Redis) Get(ctx context.Context, id string) (model.RunStats, error) {
	data, err := r.rdb.Get(ctx, r.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.RunStats{}, ErrNotFound
	}
	if err != nil {
		return model.RunStats{}, fmt.Errorf("get run: %w", err)
	}
	var run model.RunStats
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunStats{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}

// Recent returns up to limit runs, newest first. Runs whose payload has
// expired are skipped.
func (r *Redis) Recent(ctx context.Context, limit int) ([]model.RunStats, error) {
	if limit <= 0 || limit > r.cap {
		limit = r.cap
	}
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return []model.RunStats{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.runKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}

	out := make([]model.RunStats, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var run model.RunStats
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, run)
	}
	return out, nil
}
