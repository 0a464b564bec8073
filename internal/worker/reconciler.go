package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"missionctl/internal/domain"
	"missionctl/internal/metrics"
)

// Reconciler is the periodic sweep that repairs what the trigger pipeline
// left behind: it releases expired message claims so a crashed worker never
// wedges a message forever, and optionally re-enqueues failed jobs that
// still have retry budget.
type Reconciler struct {
	store  domain.Store
	logger *slog.Logger

	cronExpr      string
	gron          *gronx.Gronx
	requeueFailed bool
	maxAttempts   int

	reclaimed  *metrics.Counter
	requeued   *metrics.Counter
	queueDepth *metrics.Gauge
}

// ReconcilerConfig holds the reconciler's dependencies.
type ReconcilerConfig struct {
	Store  domain.Store
	Logger *slog.Logger

	// CronExpr controls how often the sweep runs.
	CronExpr string
	// RequeueFailed turns failed jobs below the attempt ceiling back into
	// fresh queued jobs. Off by default: failed jobs then wait for an
	// operator.
	RequeueFailed bool
	MaxAttempts   int
}

// NewReconciler validates the cron expression and builds the reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if !gronx.IsValid(cfg.CronExpr) {
		return nil, fmt.Errorf("invalid reconcile cron expression: %q", cfg.CronExpr)
	}
	return &Reconciler{
		store:         cfg.Store,
		logger:        cfg.Logger,
		cronExpr:      cfg.CronExpr,
		gron:          gronx.New(),
		requeueFailed: cfg.RequeueFailed,
		maxAttempts:   cfg.MaxAttempts,
		reclaimed:     metrics.Collector.Counter("missionctl_claims_reclaimed_total", "Expired message claims released"),
		requeued:      metrics.Collector.Counter("missionctl_jobs_requeued_total", "Failed jobs re-enqueued"),
		queueDepth:    metrics.Collector.Gauge("missionctl_jobs_queued", "Jobs currently waiting for a worker"),
	}, nil
}

// Run checks the cron schedule once a minute and sweeps when due. It blocks
// until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			due, err := r.gron.IsDue(r.cronExpr, now)
			if err != nil {
				r.logger.Error("cron check failed", "expr", r.cronExpr, "err", err)
				continue
			}
			if due {
				r.Sweep(ctx, now)
			}
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) {
	r.reclaimExpired(ctx, now)
	if r.requeueFailed {
		r.requeueFailedJobs(ctx)
	}
	if n, err := r.store.CountJobs(ctx, domain.JobQueued); err == nil {
		r.queueDepth.Set(int64(n))
	}
}

func (r *Reconciler) reclaimExpired(ctx context.Context, now time.Time) {
	stuck, err := r.store.ExpiredClaims(ctx, now)
	if err != nil {
		r.logger.Error("cannot list expired claims", "err", err)
		return
	}
	for _, msg := range stuck {
		if err := r.store.ReleaseClaim(ctx, msg.ID, "claim expired"); err != nil {
			r.logger.Error("cannot release expired claim", "message_id", msg.ID, "err", err)
			continue
		}
		r.reclaimed.Inc()
		r.logger.Warn("released expired claim", "message_id", msg.ID, "attempts", msg.State.Attempts)
	}
}

// requeueFailedJobs turns each retryable failed job into a fresh queued job.
// The old job keeps its failed record; the new one carries the accumulated
// attempt count so the deadletter ceiling still holds across requeues.
func (r *Reconciler) requeueFailedJobs(ctx context.Context) {
	failed, err := r.store.FailedJobs(ctx, r.maxAttempts)
	if err != nil {
		r.logger.Error("cannot list failed jobs", "err", err)
		return
	}
	for _, old := range failed {
		if err := r.store.MarkJobDeadletter(ctx, old.ID, old.Attempts, "superseded by requeue"); err != nil {
			r.logger.Error("cannot retire failed job", "job_id", old.ID, "err", err)
			continue
		}
		job := &domain.Job{
			Kind:           old.Kind,
			MessageID:      old.MessageID,
			ConversationID: old.ConversationID,
			Status:         domain.JobQueued,
			Priority:       old.Priority,
			Attempts:       old.Attempts,
		}
		if err := r.store.CreateJob(ctx, job); err != nil {
			r.logger.Error("cannot requeue job", "old_job_id", old.ID, "err", err)
			continue
		}
		r.requeued.Inc()
		r.logger.Info("requeued failed job", "old_job_id", old.ID, "job_id", job.ID, "attempts", old.Attempts)
	}
}
