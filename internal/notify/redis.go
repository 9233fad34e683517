package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	KeyPrefix    string
	PollInterval time.Duration
	BatchSize    int
	Logger       *slog.Logger
	Recorder     Recorder
}

// RedisQueue keeps tasks in three keys:
//
//	<prefix>:ready       list of tasks waiting for a worker
//	<prefix>:processing  list of tasks a worker has taken but not finished
//	<prefix>:delayed     sorted set of retries, scored by due time in ms
//
// A task stays in processing until it has been handled or rescheduled, so a
// crashed worker's tasks are picked up again by Recover.
type RedisQueue struct {
	client   *redis.Client
	handler  Handler
	logger   *slog.Logger
	recorder Recorder

	readyKey      string
	processingKey string
	delayedKey    string
	pollInterval  time.Duration
	batchSize     int
	now           func() time.Time
}

func NewRedisQueue(client *redis.Client, handler Handler, opts RedisOptions) *RedisQueue {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "notify"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &RedisQueue{
		client:        client,
		handler:       handler,
		logger:        opts.Logger.With(slog.String("component", "notify-redis")),
		recorder:      opts.Recorder,
		readyKey:      opts.KeyPrefix + ":ready",
		processingKey: opts.KeyPrefix + ":processing",
		delayedKey:    opts.KeyPrefix + ":delayed",
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		now:           time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task, maxRetries int, backoff time.Duration) error {
	prepare(&task, maxRetries, backoff)

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := q.client.LPush(ctx, q.readyKey, payload).Err(); err != nil {
		return fmt.Errorf("push task: %w", err)
	}

	return nil
}

func (q *RedisQueue) Run(ctx context.Context) error {
	recovered, err := q.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight tasks: %w", err)
	}
	if recovered > 0 {
		q.logger.Info("recovered in-flight notifications", slog.Int("count", recovered))
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.Poll(ctx); err != nil && ctx.Err() == nil {
			q.logger.Error("poll notifications", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Recover moves tasks left in processing back to ready.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey, q.readyKey).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Poll promotes due retries and handles up to one batch of ready tasks.
func (q *RedisQueue) Poll(ctx context.Context) (int, error) {
	if err := q.promoteDue(ctx); err != nil {
		return 0, err
	}

	handled := 0
	for handled < q.batchSize {
		raw, err := q.client.RPopLPush(ctx, q.readyKey, q.processingKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return handled, fmt.Errorf("take task: %w", err)
		}

		if err := q.deliver(ctx, raw); err != nil {
			return handled, err
		}
		handled++
	}

	return handled, nil
}

func (q *RedisQueue) deliver(ctx context.Context, raw string) error {
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		q.logger.Error("discarding malformed task", slog.String("error", err.Error()))
		return q.ack(ctx, raw)
	}

	if attempt(ctx, q.handler, task, q.logger, q.recorder) {
		task.Attempt++
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}

		due := q.now().Add(task.Backoff).UnixMilli()
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: string(payload)})
			pipe.LRem(ctx, q.processingKey, 1, raw)
			return nil
		})
		if err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		return nil
	}

	return q.ack(ctx, raw)
}

func (q *RedisQueue) ack(ctx context.Context, raw string) error {
	if err := q.client.LRem(ctx, q.processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// promoteScript moves due members of the delayed set (KEYS[1]) onto the ready
// list (KEYS[2]) in one step, so a crash cannot drop a retry between the two.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.readyKey},
		strconv.FormatInt(q.now().UnixMilli(), 10), q.batchSize,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote delayed tasks: %w", err)
	}
	return nil
}
