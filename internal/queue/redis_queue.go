package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"commerce-automation-engine/internal/config"
	"commerce-automation-engine/internal/models"
)

// ErrJobNotFound is returned when a job id has no stored body.
var ErrJobNotFound = errors.New("job not found")

const (
	waitingKey   = "automation:jobs:waiting"
	delayedKey   = "automation:jobs:delayed"
	activeKey    = "automation:jobs:active"
	completedKey = "automation:jobs:completed"
	failedKey    = "automation:jobs:failed"
	jobKeyPrefix = "automation:job:"
)

// RedisQueue is the durable execution queue for automation jobs. Job bodies
// live in Redis alongside the state structures: a waiting list, a delayed
// sorted set scored by due time, an active sorted set scored by lease
// deadline, and capped completed/failed lists retained for inspection.
type RedisQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
	maxAttempts   int
	keepCompleted int
	keepFailed    int
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg)
}

// NewRedisQueueWithClient wraps an existing client; tests pass a miniredis one.
func NewRedisQueueWithClient(client *redis.Client, cfg config.Config) *RedisQueue {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	keepCompleted := cfg.KeepCompleted
	if keepCompleted == 0 {
		keepCompleted = 100
	}
	keepFailed := cfg.KeepFailed
	if keepFailed == 0 {
		keepFailed = 500
	}
	return &RedisQueue{
		client:        client,
		visibilityTTL: visibility,
		maxAttempts:   maxAttempts,
		keepCompleted: keepCompleted,
		keepFailed:    keepFailed,
	}
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// QueueAutomation enqueues a run-automation job for the event, optionally
// deferred by delay. The job id embeds the enqueue timestamp, so re-submitting
// the same logical event produces a distinct job: delivery is at-least-once.
func (q *RedisQueue) QueueAutomation(ctx context.Context, shopID, eventType string, eventPayload map[string]any, delay time.Duration) (models.Job, error) {
	now := time.Now()
	job := models.Job{
		ID:   models.RunAutomationJobID(shopID, eventType, now),
		Type: models.JobRunAutomation,
		Payload: models.JobPayload{
			ShopID:       shopID,
			EventType:    eventType,
			EventPayload: eventPayload,
		},
		MaxAttempts: q.maxAttempts,
		RunAt:       now.Add(delay),
		CreatedAt:   now.UTC(),
	}
	return job, q.push(ctx, job)
}

// QueueDelayedAction enqueues a delayed-action job. The handler re-runs the
// whole event for the shop rather than resuming at ActionIndex; the index is
// carried for observability only.
func (q *RedisQueue) QueueDelayedAction(ctx context.Context, shopID, eventType string, eventPayload map[string]any, automationID string, actionIndex int, delayMs int64) (models.Job, error) {
	now := time.Now()
	job := models.Job{
		ID:   models.DelayedActionJobID(automationID, actionIndex, now),
		Type: models.JobDelayedAction,
		Payload: models.JobPayload{
			ShopID:       shopID,
			EventType:    eventType,
			EventPayload: eventPayload,
			AutomationID: automationID,
			ActionIndex:  actionIndex,
			DelayMs:      delayMs,
		},
		MaxAttempts: q.maxAttempts,
		RunAt:       now.Add(time.Duration(delayMs) * time.Millisecond),
		CreatedAt:   now.UTC(),
	}
	return job, q.push(ctx, job)
}

// push stores the job body and inserts the id into waiting or delayed.
func (q *RedisQueue) push(ctx context.Context, job models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), body, 0)
	if job.RunAt.After(time.Now()) {
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	} else {
		pipe.RPush(ctx, waitingKey, job.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// saveJob rewrites a job body after attempts/last-error changes.
func (q *RedisQueue) saveJob(ctx context.Context, job models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.Set(ctx, jobKey(job.ID), body, 0).Err()
}

// GetJob loads one job body by id.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	body, err := q.client.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return job, nil
}

// PromoteDelayed moves due delayed jobs into the waiting list. It returns how
// many were promoted.
func (q *RedisQueue) PromoteDelayed(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, delayedKey, id)
		pipe.RPush(ctx, waitingKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the next waiting job and places it into the active set
// with a visibility deadline. It returns ok=false when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (models.Job, bool, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{waitingKey, activeKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	jobID, ok := res.(string)
	if !ok {
		return models.Job{}, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	job, err := q.GetJob(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		// Body vanished (e.g. a concurrent Clean); drop the lease.
		_ = q.client.ZRem(ctx, activeKey, jobID).Err()
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// ExtendLease pushes the visibility deadline forward for an active job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, activeKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Complete moves an active job to the completed list, trimming retention.
func (q *RedisQueue) Complete(ctx context.Context, job models.Job) error {
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, job.ID)
	pipe.LPush(ctx, completedKey, job.ID)
	pipe.LTrim(ctx, completedKey, 0, int64(q.keepCompleted-1))
	_, err := pipe.Exec(ctx)
	return err
}

// Fail moves an active job to the failed list after its attempts are
// exhausted, trimming retention.
func (q *RedisQueue) Fail(ctx context.Context, job models.Job) error {
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, job.ID)
	pipe.LPush(ctx, failedKey, job.ID)
	pipe.LTrim(ctx, failedKey, 0, int64(q.keepFailed-1))
	_, err := pipe.Exec(ctx)
	return err
}

// RetryLater releases an active job back to the delayed set so it runs again
// after its backoff elapses.
func (q *RedisQueue) RetryLater(ctx context.Context, job models.Job, runAt time.Time) error {
	job.RunAt = runAt
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, job.ID)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, returning their ids to the
// waiting list. This is the stall safety net for crashed workers.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, activeKey, id)
		pipe.RPush(ctx, waitingKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Cancel removes a job still in waiting or delayed. Active jobs cannot be
// cancelled; they run to completion or crash. It reports whether the job was
// actually removed.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	removedWaiting, err := q.client.LRem(ctx, waitingKey, 0, jobID).Result()
	if err != nil {
		return false, err
	}
	removedDelayed, err := q.client.ZRem(ctx, delayedKey, jobID).Result()
	if err != nil {
		return false, err
	}
	if removedWaiting == 0 && removedDelayed == 0 {
		return false, nil
	}
	return true, q.client.Del(ctx, jobKey(jobID)).Err()
}

// Stats counts jobs per lifecycle state.
func (q *RedisQueue) Stats(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	active := pipe.ZCard(ctx, activeKey)
	completed := pipe.LLen(ctx, completedKey)
	failed := pipe.LLen(ctx, failedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[string]int64{
		models.JobStatusWaiting:   waiting.Val(),
		models.JobStatusDelayed:   delayed.Val(),
		models.JobStatusActive:    active.Val(),
		models.JobStatusCompleted: completed.Val(),
		models.JobStatusFailed:    failed.Val(),
	}, nil
}

// JobsByStatus returns up to limit job bodies in the given state, newest first
// for the retention lists.
func (q *RedisQueue) JobsByStatus(ctx context.Context, status string, limit int64) ([]models.Job, error) {
	var ids []string
	var err error
	switch status {
	case models.JobStatusWaiting:
		ids, err = q.client.LRange(ctx, waitingKey, 0, limit-1).Result()
	case models.JobStatusDelayed:
		ids, err = q.client.ZRange(ctx, delayedKey, 0, limit-1).Result()
	case models.JobStatusActive:
		ids, err = q.client.ZRange(ctx, activeKey, 0, limit-1).Result()
	case models.JobStatusCompleted:
		ids, err = q.client.LRange(ctx, completedKey, 0, limit-1).Result()
	case models.JobStatusFailed:
		ids, err = q.client.LRange(ctx, failedKey, 0, limit-1).Result()
	default:
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Clean wipes every queue structure and all stored job bodies. Destructive;
// meant for dev and operational resets only.
func (q *RedisQueue) Clean(ctx context.Context) error {
	if err := q.client.Del(ctx, waitingKey, delayedKey, activeKey, completedKey, failedKey).Err(); err != nil {
		return err
	}
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, jobKeyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := q.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// WaitingDepth returns the length of the waiting list.
func (q *RedisQueue) WaitingDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, waitingKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
