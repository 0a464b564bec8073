package domain

import "time"

// SenderType distinguishes user-originated messages from system/AI replies.
// Agent messages are never re-routed: this flag is the loop-prevention anchor.
type SenderType string

const (
	SenderHuman SenderType = "human"
	SenderAgent SenderType = "agent"
)

// Channel / source identifiers.
const (
	ChannelWeb      = "web"
	ChannelTelegram = "telegram"
	SourceFred      = "fred"
	SourceSystem    = "system"
)

// DefaultConversationID is the single shared conversation thread.
const DefaultConversationID = "main"

// Routing is the set of fan-out intents stamped on a message at ingest.
// ForwardSet records whether ForwardToTelegram was set explicitly; messages
// ingested before routing existed carry no flag, and the router falls back
// to a sender-based default for those.
type Routing struct {
	NeedsFredReply    bool `json:"needsFredReply"`
	ForwardToTelegram bool `json:"forwardToTelegram"`
	ForwardSet        bool `json:"forwardSet"`
	ForAntigravity    bool `json:"forAntigravity"`
}

// MessageState is the mutable processing state of a message.
// Processing is a claim lock held by at most one worker; ClaimExpiresAt is
// the lease expiry after which the reconciler may reclaim a stuck lock.
type MessageState struct {
	HandledByFred  bool       `json:"handledByFred"`
	ResponsePosted bool       `json:"responsePosted"`
	Processing     bool       `json:"processing"`
	Attempts       int        `json:"attempts"`
	Error          string     `json:"error,omitempty"`
	LastAttemptAt  *time.Time `json:"lastAttemptAt,omitempty"`
	ClaimExpiresAt *time.Time `json:"claimExpiresAt,omitempty"`
}

// Message is one unit of communication in the shared conversation.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	Text           string       `json:"text"`
	Sender         string       `json:"sender"`
	SenderType     SenderType   `json:"senderType"`
	Source         string       `json:"source"`
	Channel        string       `json:"channel"`
	ChatID         string       `json:"chatId,omitempty"`
	ReplyToID      string       `json:"replyToId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	Routing        Routing      `json:"routing"`
	State          MessageState `json:"state"`
}

// ChannelConfig is the singleton destination record for an external channel.
// Last write wins; staleness is harmless since it only ever holds one chat id.
type ChannelConfig struct {
	Key       string    `json:"key"`
	ChatID    string    `json:"chatId"`
	ChatTitle string    `json:"chatTitle,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Destination is a fan-out target the router may select for a message.
type Destination string

const (
	DestTelegram    Destination = "telegram"
	DestInlineAI    Destination = "inline_ai"
	DestQueuedReply Destination = "queued_reply"
)
