package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
)

const (
	// DefaultKeyPrefix prefixes every key RedisBroker writes.
	DefaultKeyPrefix = "privscan:queue:"
	// DefaultCompletedTTL is how long acknowledged job records are kept.
	DefaultCompletedTTL = 24 * time.Hour
	// DefaultVisibilityTimeout is how long a claim lasts before Reclaim
	// hands the job out again.
	DefaultVisibilityTimeout = 5 * time.Minute

	promoteBatch = 100
	reclaimBatch = 100

	errClaimExpired = "claim expired before the job was settled"
)

// claimScript moves the oldest ready id to active and records its lease
// deadline in one step.
var claimScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[1], id)
return id
`)

// promoteScript moves due retries from the delayed set to wait.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// settleScript releases a claim and stores the settled record. ARGV[3] is
// ack, retry or dead. It returns 0 when the id is no longer claimed.
var settleScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[3] == 'ack' then
	if tonumber(ARGV[5]) > 0 then
		redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[5])
	else
		redis.call('SET', KEYS[3], ARGV[2])
	end
	return 1
end
redis.call('SET', KEYS[3], ARGV[2])
if ARGV[3] == 'retry' then
	redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
else
	redis.call('RPUSH', KEYS[4], ARGV[1])
end
return 1
`)

// reclaimScript returns an expired claim to wait (ARGV[3] == 'wait') or to
// the dead list. Only the caller whose ZREM removes the lease moves the id.
var reclaimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('LREM', KEYS[2], 1, ARGV[1])
if ARGV[2] ~= '' then
	redis.call('SET', KEYS[3], ARGV[2])
end
if ARGV[3] == 'wait' then
	redis.call('LPUSH', KEYS[4], ARGV[1])
elseif ARGV[3] == 'dead' then
	redis.call('RPUSH', KEYS[4], ARGV[1])
end
return 1
`)

// RedisBroker is a Broker on Redis. Per queue it keeps
//
//	<prefix><queue>:wait     list of ready job ids, pushed left, claimed right
//	<prefix><queue>:active   list of claimed job ids
//	<prefix><queue>:leases   sorted set of claimed job ids scored by claim expiry (unix ms)
//	<prefix><queue>:delayed  sorted set of retrying job ids scored by ready time (unix ms)
//	<prefix><dead>:dead      list of dead job ids, oldest first
//	<prefix>job:<id>         the job record as JSON
//
// Claims move ids from wait to active atomically, so two consumers never
// receive the same job. A claim that is not settled within the visibility
// timeout is returned to the queue by Reclaim.
type RedisBroker struct {
	client       redis.UniversalClient
	prefix       string
	completedTTL time.Duration
	visibility   time.Duration
	clock        clock.Clock
}

// RedisOption configures a RedisBroker.
type RedisOption func(*RedisBroker)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBroker) {
		b.prefix = prefix
	}
}

// WithCompletedTTL overrides DefaultCompletedTTL.
func WithCompletedTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBroker) {
		b.completedTTL = ttl
	}
}

// WithVisibilityTimeout overrides DefaultVisibilityTimeout. It should
// exceed the longest job run.
func WithVisibilityTimeout(d time.Duration) RedisOption {
	return func(b *RedisBroker) {
		b.visibility = d
	}
}

// WithRedisClock sets the time source used for retry scheduling.
func WithRedisClock(c clock.Clock) RedisOption {
	return func(b *RedisBroker) {
		b.clock = c
	}
}

// NewRedisBroker returns a broker on client. The caller owns client.
func NewRedisBroker(client redis.UniversalClient, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{
		client:       client,
		prefix:       DefaultKeyPrefix,
		completedTTL: DefaultCompletedTTL,
		visibility:   DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.visibility <= 0 {
		b.visibility = DefaultVisibilityTimeout
	}
	b.clock = clock.OrSystem(b.clock)
	return b
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (b *RedisBroker) waitKey(queue string) string    { return b.prefix + queue + ":wait" }
func (b *RedisBroker) activeKey(queue string) string  { return b.prefix + queue + ":active" }
func (b *RedisBroker) leasesKey(queue string) string  { return b.prefix + queue + ":leases" }
func (b *RedisBroker) delayedKey(queue string) string { return b.prefix + queue + ":delayed" }
func (b *RedisBroker) deadKey(dead string) string     { return b.prefix + dead + ":dead" }
func (b *RedisBroker) jobKey(id string) string        { return b.prefix + "job:" + id }

func (b *RedisBroker) load(ctx context.Context, id string) (*model.Job, error) {
	data, err := b.client.Get(ctx, b.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func encodeJob(job *model.Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return data, nil
}

// Enqueue implements Broker.
func (b *RedisBroker) Enqueue(ctx context.Context, queue, name string, payload json.RawMessage, opts model.JobOptions) (*model.Job, error) {
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	now := b.clock.Now()
	job := &model.Job{
		ID:        uuid.NewString(),
		Queue:     queue,
		Name:      name,
		Payload:   payload,
		Opts:      opts,
		Status:    model.JobWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := encodeJob(job)
	if err != nil {
		return nil, err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.ID), data, 0)
		pipe.LPush(ctx, b.waitKey(queue), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job on %s: %w", queue, err)
	}
	return job, nil
}

// promote moves retrying jobs whose ready time has passed back to wait.
func (b *RedisBroker) promote(ctx context.Context, queue string) error {
	now := strconv.FormatInt(b.clock.Now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, b.client,
		[]string{b.delayedKey(queue), b.waitKey(queue)}, now, promoteBatch).Err()
	if err != nil {
		return fmt.Errorf("failed to promote delayed jobs of %s: %w", queue, err)
	}
	return nil
}

// Consume implements Broker.
func (b *RedisBroker) Consume(ctx context.Context, queue string) (*model.Job, error) {
	if err := b.promote(ctx, queue); err != nil {
		return nil, err
	}

	deadline := b.clock.Now().Add(b.visibility).UnixMilli()
	id, err := claimScript.Run(ctx, b.client,
		[]string{b.waitKey(queue), b.activeKey(queue), b.leasesKey(queue)}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job from %s: %w", queue, err)
	}

	job, err := b.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// The record is gone; drop the orphaned id so it is not claimed again.
			_, _ = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, b.activeKey(queue), 1, id)
				pipe.ZRem(ctx, b.leasesKey(queue), id)
				return nil
			})
		}
		return nil, err
	}

	job.Status = model.JobActive
	job.UpdatedAt = b.clock.Now()
	data, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	if err := b.client.Set(ctx, b.jobKey(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to mark job %s active: %w", id, err)
	}
	return job, nil
}

// settle releases the claim on job and stores data under mode. target is
// the delayed set for retries and the dead list for dead letters.
func (b *RedisBroker) settle(ctx context.Context, job *model.Job, data []byte, mode, target string, score int64, ttl time.Duration) error {
	ok, err := settleScript.Run(ctx, b.client,
		[]string{b.activeKey(job.Queue), b.leasesKey(job.Queue), b.jobKey(job.ID), target},
		job.ID, data, mode, score, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s is not active on %s", ErrJobNotFound, job.ID, job.Queue)
	}
	return nil
}

// Ack implements Broker. The record is kept for the completed TTL.
func (b *RedisBroker) Ack(ctx context.Context, job *model.Job) error {
	done := *job
	done.Status = model.JobCompleted
	done.UpdatedAt = b.clock.Now()
	data, err := encodeJob(&done)
	if err != nil {
		return err
	}
	if err := b.settle(ctx, job, data, "ack", "", 0, b.completedTTL); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	*job = done
	return nil
}

// FailWithRetry implements Broker.
func (b *RedisBroker) FailWithRetry(ctx context.Context, job *model.Job, cause error, delay time.Duration) error {
	now := b.clock.Now()
	failed := *job
	failed.AttemptsMade++
	failed.LastError = errString(cause)
	failed.Status = model.JobFailed
	failed.UpdatedAt = now
	data, err := encodeJob(&failed)
	if err != nil {
		return err
	}
	err = b.settle(ctx, job, data, "retry", b.delayedKey(job.Queue), now.Add(delay).UnixMilli(), 0)
	if err != nil {
		return fmt.Errorf("failed to schedule retry of job %s: %w", job.ID, err)
	}
	*job = failed
	return nil
}

// MoveToDeadLetter implements Broker.
func (b *RedisBroker) MoveToDeadLetter(ctx context.Context, job *model.Job, deadQueue string, cause error) error {
	if deadQueue == "" {
		return ErrEmptyQueueName
	}
	dead := *job
	dead.AttemptsMade++
	dead.LastError = errString(cause)
	dead.Status = model.JobDead
	dead.UpdatedAt = b.clock.Now()
	data, err := encodeJob(&dead)
	if err != nil {
		return err
	}
	if err := b.settle(ctx, job, data, "dead", b.deadKey(deadQueue), 0, 0); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.ID, err)
	}
	*job = dead
	return nil
}

// Reclaim implements Reclaimer. Each expired claim counts as a failed
// attempt: the job goes back to wait, or to deadQueue when that attempt was
// its last. Records that no longer exist are dropped.
func (b *RedisBroker) Reclaim(ctx context.Context, queue, deadQueue string) (int, error) {
	if deadQueue == "" {
		return 0, ErrEmptyQueueName
	}
	now := b.clock.Now()
	ids, err := b.client.ZRangeByScore(ctx, b.leasesKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: reclaimBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read expired claims of %s: %w", queue, err)
	}

	keys := func(target string, id string) []string {
		return []string{b.leasesKey(queue), b.activeKey(queue), b.jobKey(id), target}
	}
	reclaimed := 0
	for _, id := range ids {
		job, err := b.load(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			if err := reclaimScript.Run(ctx, b.client, keys("", id), id, "", "drop").Err(); err != nil {
				return reclaimed, fmt.Errorf("failed to drop orphaned claim %s: %w", id, err)
			}
			continue
		}
		if err != nil {
			return reclaimed, err
		}

		job.AttemptsMade++
		job.LastError = errClaimExpired
		job.UpdatedAt = now
		mode, target := "wait", b.waitKey(queue)
		job.Status = model.JobWaiting
		if job.AttemptsMade >= job.Opts.MaxAttempts() {
			mode, target = "dead", b.deadKey(deadQueue)
			job.Status = model.JobDead
		}
		data, err := encodeJob(job)
		if err != nil {
			return reclaimed, err
		}
		moved, err := reclaimScript.Run(ctx, b.client, keys(target, id), id, data, mode).Int()
		if err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim job %s: %w", id, err)
		}
		reclaimed += moved
	}
	return reclaimed, nil
}

// ListDeadLetter implements Broker. Ids whose record is missing are
// removed from the list and do not count toward limit.
func (b *RedisBroker) ListDeadLetter(ctx context.Context, deadQueue string, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	for {
		start := int64(len(jobs))
		stop := int64(-1)
		if limit > 0 {
			stop = int64(limit - 1)
		}
		ids, err := b.client.LRange(ctx, b.deadKey(deadQueue), start, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list dead jobs of %s: %w", deadQueue, err)
		}

		orphans := 0
		for _, id := range ids {
			job, err := b.load(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				if err := b.client.LRem(ctx, b.deadKey(deadQueue), 1, id).Err(); err != nil {
					return nil, fmt.Errorf("failed to drop orphaned dead job %s: %w", id, err)
				}
				orphans++
				continue
			}
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
		if orphans == 0 || len(ids) == 0 || limit <= 0 {
			break
		}
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return jobs, nil
}

// RemoveDeadLetter implements Broker.
func (b *RedisBroker) RemoveDeadLetter(ctx context.Context, deadQueue, jobID string) error {
	removed, err := b.client.LRem(ctx, b.deadKey(deadQueue), 1, jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove dead job %s: %w", jobID, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s is not in %s", ErrJobNotFound, jobID, deadQueue)
	}
	if err := b.client.Del(ctx, b.jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete dead job record %s: %w", jobID, err)
	}
	return nil
}

// Metrics implements Broker.
func (b *RedisBroker) Metrics(ctx context.Context, queue string) (model.QueueMetrics, error) {
	var waiting, active, delayed *redis.IntCmd
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, b.waitKey(queue))
		active = pipe.LLen(ctx, b.activeKey(queue))
		delayed = pipe.ZCard(ctx, b.delayedKey(queue))
		return nil
	})
	if err != nil {
		return model.QueueMetrics{}, fmt.Errorf("failed to read metrics of %s: %w", queue, err)
	}
	return model.NewQueueMetrics(waiting.Val(), active.Val(), delayed.Val()), nil
}

// DeadCount implements Broker.
func (b *RedisBroker) DeadCount(ctx context.Context, deadQueue string) (int64, error) {
	n, err := b.client.LLen(ctx, b.deadKey(deadQueue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead jobs of %s: %w", deadQueue, err)
	}
	return n, nil
}
