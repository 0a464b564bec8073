package bus

import (
	"log/slog"
	"sync"

	"missionctl/internal/domain"
)

// TriggerBus is the in-process analogue of document-created triggers: every
// persisted message or job is delivered to the registered handlers, each
// delivery on its own goroutine like one serverless invocation. Handlers are
// expected to be idempotent; the bus makes no effort to deduplicate.
type TriggerBus struct {
	mu          sync.RWMutex
	msgHandlers []func(domain.Message)
	jobHandlers []func(domain.Job)
	outbound    map[string]func(domain.OutboundMessage)
	closed      bool
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// New creates a TriggerBus. Handlers should be registered before the first
// publish; registration after that is safe but may miss in-flight events.
func New(logger *slog.Logger) *TriggerBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerBus{
		outbound: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// OnMessageCreated registers a handler for the message-created trigger.
func (b *TriggerBus) OnMessageCreated(handler func(domain.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgHandlers = append(b.msgHandlers, handler)
}

// OnJobCreated registers a handler for the job-created trigger.
func (b *TriggerBus) OnJobCreated(handler func(domain.Job)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobHandlers = append(b.jobHandlers, handler)
}

// PublishMessage fires the message-created trigger.
func (b *TriggerBus) PublishMessage(msg domain.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("publish on closed bus", "message_id", msg.ID)
		return
	}
	for _, h := range b.msgHandlers {
		handler := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer b.recoverHandler("message", msg.ID)
			handler(msg)
		}()
	}
}

// PublishJob fires the job-created trigger.
func (b *TriggerBus) PublishJob(job domain.Job) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("publish on closed bus", "job_id", job.ID)
		return
	}
	for _, h := range b.jobHandlers {
		handler := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer b.recoverHandler("job", job.ID)
			handler(job)
		}()
	}
}

// SendOutbound delivers content to the channel's registered handler.
// No handler means the fan-out silently no-ops.
func (b *TriggerBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.outbound[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no outbound handler for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

// OnOutbound registers the delivery handler for a channel.
func (b *TriggerBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound[channelName] = handler
}

// Close stops accepting publishes and waits for in-flight handlers.
func (b *TriggerBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *TriggerBus) recoverHandler(kind, id string) {
	if r := recover(); r != nil {
		b.logger.Error("trigger handler panicked", "kind", kind, "id", id, "panic", r)
	}
}
