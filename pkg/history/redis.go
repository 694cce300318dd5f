package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis sorted set, enabling multiple
// analyzer instances to share one history. Members are JSON-encoded
// snapshots scored by timestamp in unix microseconds, so range queries and
// age-based eviction are plain score operations.
//
// Retention semantics match MemoryStore: every Record drops members older
// than the retention window, then trims by rank to the count cap.
type RedisStore struct {
	client       *redis.Client
	key          string
	retention    time.Duration
	maxSnapshots int
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
//
// keyPrefix namespaces the sorted set ("auspex" yields "auspex:history");
// empty uses the default. Non-positive retention/cap fall back to the
// defaults.
func NewRedisStore(addr, password string, db int, keyPrefix string, retention time.Duration, maxSnapshots int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if keyPrefix == "" {
		keyPrefix = "auspex"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client:       client,
		key:          keyPrefix + ":history",
		retention:    retention,
		maxSnapshots: maxSnapshots,
	}, nil
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, snapshot Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	newest, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, 0).Result()
	if err != nil {
		return fmt.Errorf("read newest snapshot: %w", err)
	}
	score := float64(snapshot.Timestamp.UnixMicro())
	if len(newest) > 0 && score < newest[0].Score {
		return fmt.Errorf("%w: got %s", ErrOutOfOrder, snapshot.Timestamp.Format(time.RFC3339Nano))
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.key, redis.Z{Score: score, Member: data})
	ageCutoff := time.Now().Add(-r.retention).UnixMicro()
	pipe.ZRemRangeByScore(ctx, r.key, "-inf", "("+strconv.FormatInt(ageCutoff, 10))
	pipe.ZRemRangeByRank(ctx, r.key, 0, int64(-r.maxSnapshots-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store snapshot in redis: %w", err)
	}
	return nil
}

// Query implements Store.
func (r *RedisStore) Query(ctx context.Context, window time.Duration) ([]Snapshot, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}

	cutoff := time.Now().Add(-window).UnixMicro()
	members, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query snapshots from redis: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(members))
	for _, member := range members {
		var snap Snapshot
		if err := json.Unmarshal([]byte(member), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// ServiceSeries implements Store.
func (r *RedisStore) ServiceSeries(ctx context.Context, serviceID string, window time.Duration) (ServiceSeries, error) {
	if serviceID == "" {
		return ServiceSeries{}, fmt.Errorf("service id required")
	}
	snapshots, err := r.Query(ctx, window)
	if err != nil {
		return ServiceSeries{}, err
	}
	return seriesFromSnapshots(serviceID, snapshots), nil
}

// Statistics implements Store.
func (r *RedisStore) Statistics(ctx context.Context) (Statistics, error) {
	total, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return Statistics{}, fmt.Errorf("count snapshots: %w", err)
	}

	stats := Statistics{
		TotalSnapshots: int(total),
		MetricsTracked: MetricNames(),
	}
	if total == 0 {
		return stats, nil
	}

	oldest, err := r.client.ZRangeWithScores(ctx, r.key, 0, 0).Result()
	if err != nil {
		return Statistics{}, fmt.Errorf("read oldest snapshot: %w", err)
	}
	newest, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, 0).Result()
	if err != nil {
		return Statistics{}, fmt.Errorf("read newest snapshot: %w", err)
	}
	if len(oldest) > 0 {
		stats.Oldest = time.UnixMicro(int64(oldest[0].Score)).UTC()
	}
	if len(newest) > 0 {
		stats.Newest = time.UnixMicro(int64(newest[0].Score)).UTC()
	}
	if !stats.Oldest.IsZero() && !stats.Newest.IsZero() {
		stats.CoverageHours = stats.Newest.Sub(stats.Oldest).Hours()
	}
	return stats, nil
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection. Safe to call multiple times.
func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}
