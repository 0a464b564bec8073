package router

import (
	"context"
	"log/slog"
	"time"

	"missionctl/internal/domain"
	"missionctl/internal/metrics"
	"missionctl/internal/provider"
)

const inlineReplyTimeout = 120 * time.Second

// Router is the single decision point invoked once per newly created
// message. It fans out to Telegram, summons the inline responder, and
// enqueues worker jobs; the two reply paths are independent and may both
// fire for the same message.
type Router struct {
	store     domain.Store
	bus       domain.MessageBus
	responder domain.Responder
	rules     Rules
	logger    *slog.Logger

	routed   *metrics.Counter
	fanouts  *metrics.Counter
	inline   *metrics.Counter
	enqueued *metrics.Counter
}

// Config holds the router's dependencies.
type Config struct {
	Store     domain.Store
	Bus       domain.MessageBus
	Responder domain.Responder
	Rules     Rules
	Logger    *slog.Logger
}

// New creates a Router and registers it on the bus's message-created trigger.
func New(cfg Config) *Router {
	r := &Router{
		store:     cfg.Store,
		bus:       cfg.Bus,
		responder: cfg.Responder,
		rules:     cfg.Rules,
		logger:    cfg.Logger,
		routed:    metrics.Collector.Counter("missionctl_messages_routed_total", "Messages seen by the router"),
		fanouts:   metrics.Collector.Counter("missionctl_telegram_fanouts_total", "Messages forwarded to Telegram"),
		inline:    metrics.Collector.Counter("missionctl_inline_replies_total", "Inline responder invocations"),
		enqueued:  metrics.Collector.Counter("missionctl_jobs_enqueued_total", "Reply jobs enqueued"),
	}
	cfg.Bus.OnMessageCreated(r.HandleMessage)
	return r
}

// HandleMessage is the message-created trigger body.
func (r *Router) HandleMessage(msg domain.Message) {
	ctx := context.Background()
	r.routed.Inc()

	dests := r.rules.Decide(msg)
	if len(dests) == 0 {
		r.logger.Debug("message not routed", "message_id", msg.ID, "sender_type", msg.SenderType)
		return
	}

	for _, dest := range dests {
		switch dest {
		case domain.DestTelegram:
			r.forward(ctx, msg)
		case domain.DestInlineAI:
			r.inlineReply(ctx, msg)
		case domain.DestQueuedReply:
			r.enqueue(ctx, msg)
		}
	}
}

func (r *Router) forward(ctx context.Context, msg domain.Message) {
	chatID, ok := ResolveDestination(ctx, r.store, msg, r.logger)
	if !ok {
		// No destination known yet. Dropping the fan-out is fine; the next
		// inbound group message repopulates the channel config.
		r.logger.Debug("no telegram destination, skipping fan-out", "message_id", msg.ID)
		return
	}

	r.bus.SendOutbound(domain.OutboundMessage{
		Channel: domain.ChannelTelegram,
		ChatID:  chatID,
		Sender:  msg.Sender,
		Text:    msg.Text,
	})
	r.fanouts.Inc()
	r.logger.Info("forwarded to telegram", "message_id", msg.ID, "chat_id", chatID)
}

// inlineReply calls the responder synchronously within the trigger and posts
// the reply as a new agent message. Failure here never blocks the queued
// reply path.
func (r *Router) inlineReply(ctx context.Context, msg domain.Message) {
	if r.responder == nil {
		r.logger.Warn("no responder configured, skipping inline reply", "message_id", msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, inlineReplyTimeout)
	defer cancel()

	text, err := r.responder.Complete(ctx, provider.AntigravityPersona, msg.Text)
	if err != nil {
		r.logger.Error("inline responder failed", "message_id", msg.ID, "err", err)
		return
	}

	chatID, _ := ResolveDestination(ctx, r.store, msg, r.logger)

	reply := &domain.Message{
		ConversationID: msg.ConversationID,
		Text:           text,
		Sender:         "Antigravity",
		SenderType:     domain.SenderAgent,
		Source:         domain.SourceSystem,
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
	if err := r.store.CreateMessage(ctx, reply); err != nil {
		r.logger.Error("cannot persist inline reply", "message_id", msg.ID, "err", err)
		return
	}
	r.inline.Inc()
	r.logger.Info("inline reply posted", "message_id", msg.ID, "reply_id", reply.ID)
}

func (r *Router) enqueue(ctx context.Context, msg domain.Message) {
	job := &domain.Job{
		Kind:           domain.JobFredReply,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Status:         domain.JobQueued,
		Priority:       domain.DefaultJobPriority,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		r.logger.Error("cannot enqueue reply job", "message_id", msg.ID, "err", err)
		return
	}
	r.enqueued.Inc()
	r.logger.Info("reply job enqueued", "message_id", msg.ID, "job_id", job.ID)
}
