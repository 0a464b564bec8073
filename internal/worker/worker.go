package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"missionctl/internal/domain"
	"missionctl/internal/metrics"
	"missionctl/internal/provider"
	"missionctl/internal/router"
)

const replyTimeout = 120 * time.Second

var errNoResponder = errors.New("no responder configured")

// Worker consumes reply jobs fired by the job-created trigger. Delivery is
// at-least-once, so every path through HandleJob must tolerate a duplicate
// invocation; the message claim is what guarantees at most one posted reply.
type Worker struct {
	store     domain.Store
	responder domain.Responder
	logger    *slog.Logger

	maxAttempts int
	claimTTL    time.Duration

	handled    *metrics.Counter
	replies    *metrics.Counter
	retries    *metrics.Counter
	deadletter *metrics.Counter
}

// Config holds the worker's dependencies.
type Config struct {
	Store     domain.Store
	Bus       domain.MessageBus
	Responder domain.Responder
	Logger    *slog.Logger

	// MaxAttempts is the retry ceiling; at or past it a failed job goes to
	// the deadletter status instead of failed.
	MaxAttempts int
	// ClaimTTL is the message processing lease duration.
	ClaimTTL time.Duration
}

// New creates a Worker and registers it on the bus's job-created trigger.
func New(cfg Config) *Worker {
	w := &Worker{
		store:       cfg.Store,
		responder:   cfg.Responder,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		claimTTL:    cfg.ClaimTTL,
		handled:     metrics.Collector.Counter("missionctl_jobs_handled_total", "Jobs picked up by the worker"),
		replies:     metrics.Collector.Counter("missionctl_fred_replies_total", "Fred replies posted"),
		retries:     metrics.Collector.Counter("missionctl_job_retries_total", "Jobs marked failed for retry"),
		deadletter:  metrics.Collector.Counter("missionctl_jobs_deadletter_total", "Jobs sent to the deadletter"),
	}
	cfg.Bus.OnJobCreated(w.HandleJob)
	return w
}

// HandleJob is the job-created trigger body.
func (w *Worker) HandleJob(job domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	if job.Kind != domain.JobFredReply {
		w.logger.Warn("unknown job kind, ignoring", "job_id", job.ID, "kind", job.Kind)
		return
	}
	if job.Status.Terminal() {
		return
	}
	w.handled.Inc()

	msg, err := w.store.ClaimMessage(ctx, job.MessageID, w.claimTTL)
	switch {
	case err == domain.ErrAlreadyHandled:
		// Duplicate delivery, or the inline path got there first. Close the
		// job without charging an attempt.
		w.logger.Info("message already handled, closing job", "job_id", job.ID, "message_id", job.MessageID)
		if err := w.store.MarkJobDone(ctx, job.ID); err != nil {
			w.logger.Error("cannot close duplicate job", "job_id", job.ID, "err", err)
		}
		return
	case err == domain.ErrMessageNotFound:
		// Retrying cannot make the message appear.
		w.logger.Error("job references missing message", "job_id", job.ID, "message_id", job.MessageID)
		if err := w.store.MarkJobDeadletter(ctx, job.ID, job.Attempts+1, "message not found"); err != nil {
			w.logger.Error("cannot deadletter job", "job_id", job.ID, "err", err)
		}
		w.deadletter.Inc()
		return
	case err != nil:
		w.fail(ctx, job, err)
		return
	}

	if err := w.store.MarkJobRunning(ctx, job.ID); err != nil {
		w.logger.Error("cannot mark job running", "job_id", job.ID, "err", err)
	}

	if w.responder == nil {
		err := errNoResponder
		w.release(ctx, msg.ID, err)
		w.fail(ctx, job, err)
		return
	}

	text, err := w.responder.Complete(ctx, provider.FredPersona, msg.Text)
	if err != nil {
		w.release(ctx, msg.ID, err)
		w.fail(ctx, job, err)
		return
	}

	chatID, _ := router.ResolveDestination(ctx, w.store, *msg, w.logger)

	reply := &domain.Message{
		ConversationID: msg.ConversationID,
		Text:           text,
		Sender:         "Fred",
		SenderType:     domain.SenderAgent,
		Source:         domain.SourceFred,
		Channel:        domain.ChannelWeb,
		ChatID:         chatID,
		ReplyToID:      msg.ID,
		Routing: domain.Routing{
			NeedsFredReply:    false,
			ForwardToTelegram: true,
			ForwardSet:        true,
			ForAntigravity:    false,
		},
		State: domain.MessageState{
			HandledByFred:  true,
			ResponsePosted: true,
		},
	}
	if err := w.store.CreateMessage(ctx, reply); err != nil {
		w.release(ctx, msg.ID, err)
		w.fail(ctx, job, err)
		return
	}

	if err := w.store.CompleteMessage(ctx, msg.ID); err != nil {
		w.logger.Error("cannot complete message", "message_id", msg.ID, "err", err)
	}
	if err := w.store.MarkJobDone(ctx, job.ID); err != nil {
		w.logger.Error("cannot mark job done", "job_id", job.ID, "err", err)
	}
	w.replies.Inc()
	w.logger.Info("fred reply posted", "job_id", job.ID, "message_id", msg.ID, "reply_id", reply.ID)
}

func (w *Worker) release(ctx context.Context, msgID string, cause error) {
	if err := w.store.ReleaseClaim(ctx, msgID, cause.Error()); err != nil {
		w.logger.Error("cannot release claim", "message_id", msgID, "err", err)
	}
}

// fail records a retryable failure, or deadletters once the attempt budget
// is spent.
func (w *Worker) fail(ctx context.Context, job domain.Job, cause error) {
	attempts := job.Attempts + 1
	if attempts >= w.maxAttempts {
		w.logger.Error("job exhausted retries, moving to deadletter",
			"job_id", job.ID, "attempts", attempts, "err", cause)
		if err := w.store.MarkJobDeadletter(ctx, job.ID, attempts, cause.Error()); err != nil {
			w.logger.Error("cannot deadletter job", "job_id", job.ID, "err", err)
		}
		w.deadletter.Inc()
		return
	}

	w.logger.Warn("job failed, will retry", "job_id", job.ID, "attempts", attempts, "err", cause)
	if err := w.store.MarkJobFailed(ctx, job.ID, attempts, cause.Error()); err != nil {
		w.logger.Error("cannot mark job failed", "job_id", job.ID, "err", err)
	}
	w.retries.Inc()
}
