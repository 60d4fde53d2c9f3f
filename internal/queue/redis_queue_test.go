package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"commerce-automation-engine/internal/config"
	"commerce-automation-engine/internal/models"
)

func newTestQueue(t *testing.T, cfg config.Config) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, cfg)
}

func TestQueueAutomationImmediateIsWaiting(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	job, err := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{"orderId": "o1"}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Type != models.JobRunAutomation {
		t.Fatalf("expected run-automation job, got %s", job.Type)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("expected default 3 attempts, got %d", job.MaxAttempts)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[models.JobStatusWaiting] != 1 || stats[models.JobStatusDelayed] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if got.ID != job.ID {
		t.Fatalf("expected job %s, got %s", job.ID, got.ID)
	}
	if got.Payload.ShopID != "s1" || got.Payload.EventType != "order.created" {
		t.Fatalf("payload lost in round trip: %+v", got.Payload)
	}
}

func TestQueueAutomationWithDelayStaysDelayedUntilDue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	job, err := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{}, 10*time.Second)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if effective := job.RunAt.Sub(job.CreatedAt); effective < 9*time.Second || effective > 11*time.Second {
		t.Fatalf("expected ~10000ms effective delay, got %s", effective)
	}

	// A worker polling before the delay elapses must not get the job.
	if n, _ := q.PromoteDelayed(ctx, time.Now(), 100); n != 0 {
		t.Fatalf("expected no promotions before due time, promoted %d", n)
	}
	if _, ok, _ := q.DequeueWithLease(ctx); ok {
		t.Fatalf("job executed before its delay elapsed")
	}

	// Once due, it promotes and dequeues.
	if n, err := q.PromoteDelayed(ctx, time.Now().Add(11*time.Second), 100); err != nil || n != 1 {
		t.Fatalf("expected 1 promotion, got n=%d err=%v", n, err)
	}
	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok || got.ID != job.ID {
		t.Fatalf("expected job after promotion: ok=%v err=%v", ok, err)
	}
}

func TestDelayedActionJobIdentity(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	job, err := q.QueueDelayedAction(ctx, "s1", "order.created", map[string]any{}, "auto-1", 2, 5000)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Type != models.JobDelayedAction {
		t.Fatalf("expected delayed-action job, got %s", job.Type)
	}
	want := "auto-1-action-2-"
	if len(job.ID) <= len(want) || job.ID[:len(want)] != want {
		t.Fatalf("job id %q does not follow automation-action-index-timestamp form", job.ID)
	}

	stats, _ := q.Stats(ctx)
	if stats[models.JobStatusDelayed] != 1 {
		t.Fatalf("expected job in delayed state: %v", stats)
	}
}

func TestRetryLaterMovesActiveToDelayed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	if _, err := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}

	job.Attempts = 1
	job.LastError = "boom"
	if err := q.RetryLater(ctx, job, time.Now().Add(5*time.Second)); err != nil {
		t.Fatalf("retry later: %v", err)
	}

	stats, _ := q.Stats(ctx)
	if stats[models.JobStatusActive] != 0 || stats[models.JobStatusDelayed] != 1 {
		t.Fatalf("unexpected stats after retry: %v", stats)
	}

	saved, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if saved.Attempts != 1 || saved.LastError != "boom" {
		t.Fatalf("attempt bookkeeping not persisted: %+v", saved)
	}
}

func TestCompletedRetentionIsTrimmed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{KeepCompleted: 2, KeepFailed: 2})

	for i := 0; i < 3; i++ {
		if _, err := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{"i": i}, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		job, ok, err := q.DequeueWithLease(ctx)
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		if err := q.Complete(ctx, job); err != nil {
			t.Fatalf("complete: %v", err)
		}
		// Distinct enqueue timestamps keep the ids unique.
		time.Sleep(2 * time.Millisecond)
	}

	stats, _ := q.Stats(ctx)
	if stats[models.JobStatusCompleted] != 2 {
		t.Fatalf("expected completed list trimmed to 2, got %d", stats[models.JobStatusCompleted])
	}

	jobs, err := q.JobsByStatus(ctx, models.JobStatusCompleted, 10)
	if err != nil {
		t.Fatalf("jobs by status: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 retained jobs, got %d", len(jobs))
	}
}

func TestCancelOnlyAffectsWaitingAndDelayed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	waiting, _ := q.QueueAutomation(ctx, "s1", "a", map[string]any{}, 0)
	delayed, _ := q.QueueAutomation(ctx, "s1", "b", map[string]any{}, time.Minute)

	if removed, err := q.Cancel(ctx, waiting.ID); err != nil || !removed {
		t.Fatalf("cancel waiting: removed=%v err=%v", removed, err)
	}
	if removed, err := q.Cancel(ctx, delayed.ID); err != nil || !removed {
		t.Fatalf("cancel delayed: removed=%v err=%v", removed, err)
	}
	if _, err := q.GetJob(ctx, waiting.ID); err != ErrJobNotFound {
		t.Fatalf("cancelled job body should be gone, err=%v", err)
	}

	// An active job cannot be cancelled.
	active, _ := q.QueueAutomation(ctx, "s1", "c", map[string]any{}, 0)
	if _, ok, _ := q.DequeueWithLease(ctx); !ok {
		t.Fatalf("expected to lease job")
	}
	if removed, err := q.Cancel(ctx, active.ID); err != nil || removed {
		t.Fatalf("active job must not be cancellable: removed=%v err=%v", removed, err)
	}
}

func TestRequeueExpiredReclaimsStalledLeases(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{VisibilityTimeout: time.Second})

	job, _ := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{}, 0)
	if _, ok, _ := q.DequeueWithLease(ctx); !ok {
		t.Fatalf("expected to lease job")
	}

	// Before the lease deadline nothing is reclaimed.
	if ids, _ := q.RequeueExpired(ctx, time.Now(), 100); len(ids) != 0 {
		t.Fatalf("lease reclaimed too early: %v", ids)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Second), 100)
	if err != nil || len(ids) != 1 || ids[0] != job.ID {
		t.Fatalf("expected stalled job reclaimed: ids=%v err=%v", ids, err)
	}

	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok || got.ID != job.ID {
		t.Fatalf("reclaimed job should be dequeueable again: ok=%v err=%v", ok, err)
	}
}

func TestCleanWipesEverything(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	_, _ = q.QueueAutomation(ctx, "s1", "a", map[string]any{}, 0)
	_, _ = q.QueueAutomation(ctx, "s1", "b", map[string]any{}, time.Minute)
	job, ok, _ := q.DequeueWithLease(ctx)
	if !ok {
		t.Fatalf("expected to lease job")
	}
	_ = q.Complete(ctx, job)

	if err := q.Clean(ctx); err != nil {
		t.Fatalf("clean: %v", err)
	}

	stats, _ := q.Stats(ctx)
	for status, n := range stats {
		if n != 0 {
			t.Fatalf("expected empty queue after clean, %s=%d", status, n)
		}
	}
	if _, err := q.GetJob(ctx, job.ID); err != ErrJobNotFound {
		t.Fatalf("job bodies should be wiped, err=%v", err)
	}
}

func TestDuplicateEnqueuesAreNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, config.Config{})

	a, _ := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{}, 0)
	time.Sleep(2 * time.Millisecond)
	b, _ := q.QueueAutomation(ctx, "s1", "order.created", map[string]any{}, 0)

	if a.ID == b.ID {
		t.Fatalf("expected distinct ids for duplicate logical events")
	}
	if depth, _ := q.WaitingDepth(ctx); depth != 2 {
		t.Fatalf("expected both duplicates queued, depth=%d", depth)
	}
}
