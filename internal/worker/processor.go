package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"commerce-automation-engine/internal/config"
	"commerce-automation-engine/internal/models"
	"commerce-automation-engine/internal/queue"
	"commerce-automation-engine/internal/telemetry"
)

// AutomationRunner is the engine entry point the worker drives.
type AutomationRunner interface {
	RunAutomationsForEvent(ctx context.Context, shopID, eventType string, payload map[string]any) error
}

// Handler executes a job for a given job type.
type Handler func(ctx context.Context, job models.Job) error

// Processor drives the worker execution loop. It is an explicit value with
// injected dependencies, constructed and started by cmd/worker; nothing is
// registered as an import side effect.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	handlers map[string]Handler
	log      *logrus.Logger
	workerID string
}

// NewProcessor wires a processor over the queue with handlers for both job
// kinds. A delayed-action job re-runs the entire event for the shop: execution
// does not resume at the recorded action index, so any action that already ran
// on a prior pass runs again. The same holds for retries of either kind; the
// whole handler re-executes from scratch. Delivery is at-least-once.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, runner AutomationRunner, log *logrus.Logger, workerID string) *Processor {
	if log == nil {
		log = logrus.New()
	}
	p := &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[string]Handler),
		log:      log,
		workerID: workerID,
	}
	p.handlers[models.JobRunAutomation] = func(ctx context.Context, job models.Job) error {
		return runner.RunAutomationsForEvent(ctx, job.Payload.ShopID, job.Payload.EventType, job.Payload.EventPayload)
	}
	p.handlers[models.JobDelayedAction] = func(ctx context.Context, job models.Job) error {
		return runner.RunAutomationsForEvent(ctx, job.Payload.ShopID, job.Payload.EventType, job.Payload.EventPayload)
	}
	return p
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteDelayed(ctx, time.Now(), int64(p.cfg.PromoteBatchSize))
		p.reclaimExpired(ctx)
		if depth, err := p.queue.WaitingDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		job, ok, err := p.queue.DequeueWithLease(ctx)
		if err != nil || !ok {
			sleepCtx(ctx, p.cfg.WorkerPollInterval)
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.process(ctx, job)
		telemetry.InFlightGauge.Dec()
	}
}

// reclaimExpired returns timed-out leases to the waiting list. The in-flight
// gauge is left alone: each process accounts only for jobs it leased itself,
// and a reclaimed lease usually belonged to a different worker.
func (p *Processor) reclaimExpired(ctx context.Context) {
	reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100)
	if err != nil || len(reclaimed) == 0 {
		return
	}
	telemetry.JobsReclaimed.Add(float64(len(reclaimed)))
	p.log.WithField("count", len(reclaimed)).Warn("reclaimed expired job leases")
}

// process runs one leased job and settles it: completed, retry after backoff,
// or failed once attempts are exhausted.
func (p *Processor) process(ctx context.Context, job models.Job) {
	job.Attempts++
	fields := logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempts,
		"worker":   p.workerID,
	}

	handler, ok := p.handlers[job.Type]
	if !ok {
		job.LastError = fmt.Sprintf("no handler registered for job type %q", job.Type)
		_ = p.queue.Fail(ctx, job)
		telemetry.JobsExhausted.Inc()
		p.log.WithFields(fields).Error(job.LastError)
		return
	}

	// An automation chains several blocking actions whose combined time can
	// outrun the visibility lease. Keep the lease current until the handler
	// settles, or a reclaim would hand the still-running job to another worker.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.keepLeaseAlive(hbCtx, job.ID)
	err := handler(ctx, job)
	stopHeartbeat()
	if err == nil {
		job.LastError = ""
		if qErr := p.queue.Complete(ctx, job); qErr != nil {
			p.log.WithFields(fields).WithField("error", qErr.Error()).Error("settle completed job")
		}
		telemetry.JobsCompleted.Inc()
		p.log.WithFields(fields).Info("job completed")
		return
	}

	job.LastError = err.Error()
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = p.cfg.MaxAttempts
	}
	if job.Attempts >= maxAttempts {
		if qErr := p.queue.Fail(ctx, job); qErr != nil {
			p.log.WithFields(fields).WithField("error", qErr.Error()).Error("settle failed job")
		}
		telemetry.JobsExhausted.Inc()
		p.log.WithFields(fields).WithField("error", job.LastError).Error("job failed, attempts exhausted")
		return
	}

	wait := backoff(p.cfg.BackoffInitial, p.cfg.BackoffMax, job.Attempts)
	nextRun := time.Now().Add(wait)
	if qErr := p.queue.RetryLater(ctx, job, nextRun); qErr != nil {
		p.log.WithFields(fields).WithField("error", qErr.Error()).Error("schedule retry")
	}
	telemetry.JobsRetried.Inc()
	p.log.WithFields(fields).WithFields(logrus.Fields{
		"error":    job.LastError,
		"next_run": nextRun.UTC().Format(time.RFC3339),
	}).Warn("job failed, retry scheduled")
}

// keepLeaseAlive extends the active job's visibility deadline on a half-lease
// cadence until the context is cancelled.
func (p *Processor) keepLeaseAlive(ctx context.Context, jobID string) {
	visibility := p.cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	ticker := time.NewTicker(visibility / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, jobID, visibility); err != nil && ctx.Err() == nil {
				p.log.WithFields(logrus.Fields{
					"job_id": jobID,
					"error":  err.Error(),
				}).Warn("extend job lease")
			}
		}
	}
}

// backoff returns the exponential retry delay for the given completed attempt
// count: base, 2*base, 4*base, ... capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if attempt <= 1 {
		return base
	}
	wait := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if max > 0 && wait > max {
		wait = max
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
