package domain

import "context"

// Responder is a single-turn text-completion service: a fixed persona
// preamble plus the message text as the only user turn, plain text back.
// The service itself is opaque; failures surface as ordinary errors.
type Responder interface {
	Name() string
	Complete(ctx context.Context, persona, text string) (string, error)
	Healthy(ctx context.Context) error
}
