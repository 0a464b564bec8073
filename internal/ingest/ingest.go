// Package ingest normalizes external input into the internal message shape.
// Adapters set the initial routing and state fields deterministically; all
// later mutation belongs to the router and the worker.
package ingest

import (
	"strings"

	"missionctl/internal/domain"
)

// DefaultMentionToken summons the inline responder when it appears anywhere
// in a message, any case.
const DefaultMentionToken = "@antigravity"

// ContainsMention reports whether text mentions the token, case-insensitive
// and substring-based.
func ContainsMention(text, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(token))
}

// Adapter builds message records from raw channel input.
type Adapter struct {
	MentionToken string
}

// NewAdapter returns an Adapter with the given mention token, or the
// default when empty.
func NewAdapter(mentionToken string) *Adapter {
	if mentionToken == "" {
		mentionToken = DefaultMentionToken
	}
	return &Adapter{MentionToken: mentionToken}
}

// FromWeb normalizes free text typed in the web inbox. Web input is never
// echoed back out to Telegram, and always queues a worker reply.
func (a *Adapter) FromWeb(sender, text string) *domain.Message {
	if sender == "" {
		sender = "Anonymous"
	}
	return &domain.Message{
		ConversationID: domain.DefaultConversationID,
		Text:           text,
		Sender:         sender,
		SenderType:     domain.SenderHuman,
		Source:         domain.ChannelWeb,
		Channel:        domain.ChannelWeb,
		Routing: domain.Routing{
			NeedsFredReply:    true,
			ForwardToTelegram: false,
			ForwardSet:        true,
			ForAntigravity:    ContainsMention(text, a.MentionToken),
		},
	}
}

// FromTelegram normalizes an inbound bot update. chatID is the external chat
// identifier as a string; it doubles as the fan-out destination later.
func (a *Adapter) FromTelegram(sender, text, chatID string) *domain.Message {
	if sender == "" {
		sender = "Anonymous"
	}
	return &domain.Message{
		ConversationID: domain.DefaultConversationID,
		Text:           text,
		Sender:         sender,
		SenderType:     domain.SenderHuman,
		Source:         domain.ChannelTelegram,
		Channel:        domain.ChannelTelegram,
		ChatID:         chatID,
		Routing: domain.Routing{
			NeedsFredReply:    true,
			ForwardToTelegram: false,
			ForwardSet:        true,
			ForAntigravity:    ContainsMention(text, a.MentionToken),
		},
	}
}
