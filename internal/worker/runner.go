package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"licensing-service/internal/alert"
	"licensing-service/internal/config"
	"licensing-service/internal/domain"
	"licensing-service/internal/metrics"
	"licensing-service/internal/repository"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobFunc is one batch job body. It receives the run's frozen asOf instant
// and reports what it processed.
type JobFunc func(ctx context.Context, asOf time.Time) (processed, failed int, total decimal.Decimal, err error)

// Runner gives every batch job the same guarantees: at most one concurrent
// run per job name (in-process guard plus a redis lock across instances),
// a persisted run record, metrics, and operator alerting.
type Runner struct {
	jobs    repository.JobRunRepository
	rdb     redis.UniversalClient
	alerts  *alert.Publisher
	cfg     config.JobsConfig
	log     *zap.Logger
	mu      sync.Mutex
	running map[string]bool
}

func NewRunner(
	jobs repository.JobRunRepository,
	rdb redis.UniversalClient,
	alerts *alert.Publisher,
	cfg config.JobsConfig,
	log *zap.Logger,
) *Runner {
	return &Runner{
		jobs:    jobs,
		rdb:     rdb,
		alerts:  alerts,
		cfg:     cfg,
		log:     log,
		running: make(map[string]bool),
	}
}

// Run executes one named job under the single-flight discipline. A disabled
// job is a logged no-op; a job already running here or elsewhere is skipped,
// never queued.
func (r *Runner) Run(ctx context.Context, name string, enabled bool, fn JobFunc) {
	if !enabled {
		r.log.Info("job disabled, skipping run", zap.String("job", name))
		metrics.JobRuns.WithLabelValues(name, string(domain.JobStatusSkipped)).Inc()
		return
	}

	if !r.tryAcquireLocal(name) {
		r.log.Warn("job already running in this process, skipping", zap.String("job", name))
		metrics.JobRuns.WithLabelValues(name, string(domain.JobStatusSkipped)).Inc()
		return
	}
	defer r.releaseLocal(name)

	lockKey := "jobs:lock:" + name
	if r.rdb != nil {
		ok, err := r.rdb.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), r.cfg.LockTTL).Result()
		if err != nil {
			r.log.Warn("job lock check failed, proceeding with local guard only",
				zap.String("job", name), zap.Error(err))
		} else if !ok {
			r.log.Warn("job running on another instance, skipping", zap.String("job", name))
			metrics.JobRuns.WithLabelValues(name, string(domain.JobStatusSkipped)).Inc()
			return
		} else {
			defer r.rdb.Del(context.WithoutCancel(ctx), lockKey)
		}
	}

	asOf := time.Now().UTC()
	start := time.Now()
	r.log.Info("job starting", zap.String("job", name), zap.Time("as_of", asOf))

	processed, failed, total, err := fn(ctx, asOf)
	duration := time.Since(start)

	status := domain.JobStatusSucceeded
	if err != nil {
		status = domain.JobStatusFailed
	}

	run := &domain.JobRun{
		Name:        name,
		LastRunAt:   asOf,
		Processed:   processed,
		Errors:      failed,
		TotalAmount: total,
		Duration:    duration,
		Status:      status,
	}
	if uerr := r.jobs.Upsert(ctx, run); uerr != nil {
		r.log.Error("failed to persist job run", zap.String("job", name), zap.Error(uerr))
	}

	metrics.JobRuns.WithLabelValues(name, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(name).Observe(duration.Seconds())

	r.log.Info("job finished",
		zap.String("job", name),
		zap.String("status", string(status)),
		zap.Int("processed", processed),
		zap.Int("errors", failed),
		zap.String("total_amount", total.String()),
		zap.Duration("duration", duration),
		zap.Error(err))

	r.notify(ctx, name, run, err)
}

func (r *Runner) notify(ctx context.Context, name string, run *domain.JobRun, runErr error) {
	if r.alerts == nil {
		return
	}

	if runErr != nil || run.Errors > 0 {
		msg := fmt.Sprintf("job %s finished with %d row errors", name, run.Errors)
		if runErr != nil {
			msg = fmt.Sprintf("job %s failed: %v", name, runErr)
		}
		r.alerts.Publish(ctx, alert.Event{
			Kind:    "alert",
			Job:     name,
			Message: msg,
			Details: map[string]interface{}{
				"processed": run.Processed,
				"errors":    run.Errors,
			},
		})
		return
	}

	if run.TotalAmount.IsPositive() {
		r.alerts.Publish(ctx, alert.Event{
			Kind:    "summary",
			Job:     name,
			Message: fmt.Sprintf("job %s released %s across %d rows", name, run.TotalAmount.String(), run.Processed),
			Details: map[string]interface{}{
				"processed":    run.Processed,
				"total_amount": run.TotalAmount.String(),
			},
		})
	}
}

// Health fails when any enabled job has not completed a run within the
// staleness window. Surfaced through /healthz.
func (r *Runner) Health(ctx context.Context, jobNames []string) error {
	now := time.Now().UTC()
	for _, name := range jobNames {
		run, err := r.jobs.Get(ctx, name)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				// Never ran yet; tolerated on fresh deployments.
				continue
			}
			return err
		}
		if now.Sub(run.LastRunAt) > r.cfg.StaleAfter {
			return fmt.Errorf("job %s stale: last run %s", name, run.LastRunAt.Format(time.RFC3339))
		}
	}
	return nil
}

func (r *Runner) tryAcquireLocal(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) releaseLocal(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}
