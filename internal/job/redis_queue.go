package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
)

// pollScript claims up to ARGV[2] messages visible at ARGV[1], hides them
// until ARGV[3] and issues each a fresh receipt token.
var pollScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for i, id in ipairs(ids) do
  local body = redis.call('HGET', KEYS[2], id)
  if body then
    local token = id .. ':' .. ARGV[4] .. ':' .. i
    redis.call('ZADD', KEYS[1], ARGV[3], id)
    redis.call('HSET', KEYS[3], id, token)
    table.insert(out, token)
    table.insert(out, body)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

// ackScript deletes a message only while ARGV[2] is its current receipt
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) == ARGV[2] then
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  redis.call('HDEL', KEYS[3], ARGV[1])
  return 1
end
return 0
`)

// RedisQueue is a Queue on Redis. Messages live in a sorted set scored by
// the time they next become visible, with bodies and current receipt tokens
// in hashes.
type RedisQueue struct {
	client            *redis.Client
	visibleKey        string
	bodyKey           string
	receiptKey        string
	maxMessages       int
	visibilityTimeout time.Duration
	now               func() time.Time
}

// NewRedisQueue creates a queue under the given key prefix
func NewRedisQueue(client *redis.Client, name string, maxMessages int, visibilityTimeout time.Duration) *RedisQueue {
	return &RedisQueue{
		client:            client,
		visibleKey:        fmt.Sprintf("queue:%s:visible", name),
		bodyKey:           fmt.Sprintf("queue:%s:body", name),
		receiptKey:        fmt.Sprintf("queue:%s:receipt", name),
		maxMessages:       maxMessages,
		visibilityTimeout: visibilityTimeout,
		now:               time.Now,
	}
}

func (q *RedisQueue) keys() []string {
	return []string{q.visibleKey, q.bodyKey, q.receiptKey}
}

// Enqueue implements Queue
func (q *RedisQueue) Enqueue(ctx context.Context, j models.Job) error {
	body, err := encodeJob(j)
	if err != nil {
		return err
	}
	id := uuid.New().String()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.bodyKey, id, body)
	pipe.ZAdd(ctx, q.visibleKey, redis.Z{Score: float64(q.now().UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewQueueError("send", err)
	}
	return nil
}

// Poll implements Queue
func (q *RedisQueue) Poll(ctx context.Context) []models.Job {
	logger := logging.FromContext(ctx)
	now := q.now()

	res, err := pollScript.Run(ctx, q.client, q.keys(),
		now.UnixMilli(),
		q.maxMessages,
		now.Add(q.visibilityTimeout).UnixMilli(),
		uuid.New().String(),
	).StringSlice()
	if err != nil {
		logger.WithError(err).Warn("Failed to receive jobs")
		return nil
	}

	jobs := make([]models.Job, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		handle, body := res[i], res[i+1]
		j, err := decodeJob(body)
		if err != nil {
			logger.WithError(err).Warn("Dropping malformed job")
			_ = q.Ack(ctx, handle)
			continue
		}
		j.ReceiptHandle = handle
		jobs = append(jobs, j)
	}
	return jobs
}

// Ack implements Queue
func (q *RedisQueue) Ack(ctx context.Context, receiptHandle string) error {
	id, _, ok := strings.Cut(receiptHandle, ":")
	if !ok {
		return nil
	}
	if err := ackScript.Run(ctx, q.client, q.keys(), id, receiptHandle).Err(); err != nil {
		return apperrors.NewQueueError("delete", err)
	}
	return nil
}

// Depth returns the number of messages not yet acknowledged
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.visibleKey).Result()
	if err != nil {
		return 0, apperrors.NewQueueError("depth", err)
	}
	return n, nil
}
