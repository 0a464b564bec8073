package domain

// OutboundMessage is content handed to a channel for delivery.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Sender  string
	Text    string
}

// MessageBus carries creation triggers to their handlers and fans outbound
// content to channels. Each trigger delivery is one independent invocation;
// delivery is at-least-once from the handler's point of view, so handlers
// rely on the store's transactional claim for idempotency.
type MessageBus interface {
	PublishMessage(msg Message)
	PublishJob(job Job)
	OnMessageCreated(handler func(Message))
	OnJobCreated(handler func(Job))

	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))

	Close()
}
