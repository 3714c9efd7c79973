package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue stores jobs in a sorted set scored by due time in unix milliseconds.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	ensureID(&job)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("schedule %s job: %w", job.Kind, err)
	}
	return nil
}

// Claim reads due members and keeps only those this caller managed to ZREM,
// so concurrent workers never run the same job. A member that does not decode is
// dropped and reported in the error while the rest of the batch is still claimed.
// On any error the jobs claimed so far are returned alongside it.
func (q *RedisQueue) Claim(ctx context.Context, now time.Time, max int) ([]Job, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read due jobs: %w", err)
	}

	var (
		out  []Job
		errs []error
	)
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, q.key, m).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("claim job: %w", err))
			break
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			errs = append(errs, fmt.Errorf("decode job %q: %w", m, err))
			continue
		}
		out = append(out, job)
	}
	return out, errors.Join(errs...)
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	return int(n), err
}

// Close is a no-op: the redis client is shared and closed by its owner.
func (q *RedisQueue) Close() error { return nil }
