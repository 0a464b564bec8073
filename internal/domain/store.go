package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrMessageNotFound means the referenced message does not exist.
	// A job hitting this fails terminally and is never retried.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAlreadyHandled signals the idempotent short-circuit: the message is
	// already being processed or has a posted reply. Not an error condition
	// for the caller; the job closes as done without a duplicate reply.
	ErrAlreadyHandled = errors.New("message already handled")
)

// Store persists messages, jobs, and the channel destination config.
// Creating a message or job fires the corresponding trigger on the bus the
// store was built with, mirroring document-created triggers: every writer,
// including the worker posting a reply, re-enters the pipeline through it.
type Store interface {
	// CreateMessage assigns ID and CreatedAt, persists, and fires the
	// message-created trigger.
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns up to limit messages of a conversation in
	// creation order.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// ClaimMessage atomically grants exclusive processing rights: it fails
	// with ErrMessageNotFound or ErrAlreadyHandled, or marks the message
	// processing, increments its attempts, stamps the attempt time and a
	// claim lease expiring after ttl, and returns the pre-claim snapshot.
	// This transaction is the sole writer-mutual-exclusion mechanism.
	ClaimMessage(ctx context.Context, id string, ttl time.Duration) (*Message, error)
	// ReleaseClaim drops the processing lock, recording claimErr if non-empty.
	ReleaseClaim(ctx context.Context, id string, claimErr string) error
	// CompleteMessage marks the message handled with its reply posted and
	// clears the lock and any recorded error.
	CompleteMessage(ctx context.Context, id string) error
	// ExpiredClaims lists messages whose processing lease expired before now.
	ExpiredClaims(ctx context.Context, now time.Time) ([]Message, error)

	// CreateJob assigns ID and CreatedAt, persists, and fires the
	// job-created trigger.
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	MarkJobDone(ctx context.Context, id string) error
	// MarkJobFailed records a retryable failure with the cumulative attempt
	// count; MarkJobDeadletter is the terminal variant.
	MarkJobFailed(ctx context.Context, id string, attempts int, errMsg string) error
	MarkJobDeadletter(ctx context.Context, id string, attempts int, errMsg string) error
	// FailedJobs lists failed jobs still below the attempt ceiling.
	FailedJobs(ctx context.Context, maxAttempts int) ([]Job, error)
	// CountJobs returns the number of jobs currently in the given status.
	CountJobs(ctx context.Context, status JobStatus) (int, error)

	// UpsertChannelConfig merges the singleton destination record: chat id
	// converges, title takes the last write.
	UpsertChannelConfig(ctx context.Context, cfg ChannelConfig) error
	GetChannelConfig(ctx context.Context, key string) (*ChannelConfig, error)
	// LatestInboundChatID returns the chat id of the most recent inbound
	// human message on the given channel, or "" when none exists.
	LatestInboundChatID(ctx context.Context, channel string) (string, error)

	Close() error
}
