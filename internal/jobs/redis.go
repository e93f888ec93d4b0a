package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/narrativescanner/scanner/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "scanner:jobs:"
	redisSeqKey      = redisKeyPrefix + "seq"
	redisIndexAll    = redisKeyPrefix + "index"
	maxUpdateRetries = 32
)

// NewRedisClient connects to REDIS_URL, accepting either a redis:// URL or a
// bare host:port.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore is a job registry shared by every replica of the service. Jobs
// are JSON values with a TTL; sorted sets keyed by creation sequence index
// them globally and per source.
type RedisStore struct {
	client    *redis.Client
	size      int64
	retention time.Duration
}

// NewRedisStore creates a registry keeping at most size jobs per index for at
// most retention.
func NewRedisStore(client *redis.Client, size int, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, size: int64(size), retention: retention}
}

func jobKey(id string) string { return redisKeyPrefix + "job:" + id }

func sourceIndexKey(source models.Source) string {
	return redisKeyPrefix + "index:" + string(source)
}

func (s *RedisStore) Create(ctx context.Context, job models.IngestionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("allocate job sequence: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, s.retention)
		for _, index := range []string{redisIndexAll, sourceIndexKey(job.Source)} {
			pipe.ZAdd(ctx, index, redis.Z{Score: float64(seq), Member: job.ID})
			if s.size > 0 {
				pipe.ZRemRangeByRank(ctx, index, 0, -(s.size + 1))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

// Update runs fn inside an optimistic WATCH transaction, retrying when
// another writer touched the job in between.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(job *models.IngestionJob) error) (models.IngestionJob, error) {
	key := jobKey(id)
	var updated models.IngestionJob

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var job models.IngestionJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := fn(&job); err != nil {
			return err
		}

		encoded, err := json.Marshal(job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return models.IngestionJob{}, err
		}
		return updated, nil
	}

	return models.IngestionJob{}, fmt.Errorf("update job %s: too much contention", id)
}

func (s *RedisStore) Get(ctx context.Context, id string) (models.IngestionJob, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.IngestionJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.IngestionJob{}, fmt.Errorf("get job %s: %w", id, err)
	}

	var job models.IngestionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return models.IngestionJob{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (s *RedisStore) List(ctx context.Context, source models.Source, limit int) ([]models.IngestionJob, error) {
	if limit <= 0 {
		return []models.IngestionJob{}, nil
	}

	index := redisIndexAll
	if source != "" {
		index = sourceIndexKey(source)
	}

	// newest first; expired jobs leave dangling index members that are skipped
	ids, err := s.client.ZRevRange(ctx, index, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	if len(ids) == 0 {
		return []models.IngestionJob{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]models.IngestionJob, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		var job models.IngestionJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}
