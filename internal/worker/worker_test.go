package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"missionctl/internal/bus"
	"missionctl/internal/domain"
	"missionctl/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.New(":memory:", nil, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fakeResponder returns a canned reply, or fails err times before succeeding.
type fakeResponder struct {
	reply string
	err   error
	calls int
}

func (f *fakeResponder) Name() string { return "fake" }

func (f *fakeResponder) Complete(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeResponder) Healthy(context.Context) error { return nil }

func testWorker(t *testing.T, st domain.Store, responder domain.Responder) *Worker {
	t.Helper()
	return New(Config{
		Store:       st,
		Bus:         bus.New(testLogger()),
		Responder:   responder,
		Logger:      testLogger(),
		MaxAttempts: 3,
		ClaimTTL:    time.Minute,
	})
}

func seedMessage(t *testing.T, st domain.Store) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ConversationID: domain.DefaultConversationID,
		Text:           "fred, what is the status?",
		Sender:         "Casey",
		SenderType:     domain.SenderHuman,
		Source:         domain.ChannelWeb,
		Channel:        domain.ChannelWeb,
		Routing:        domain.Routing{NeedsFredReply: true},
	}
	if err := st.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

func seedJob(t *testing.T, st domain.Store, messageID string) *domain.Job {
	t.Helper()
	job := &domain.Job{
		Kind:      domain.JobFredReply,
		MessageID: messageID,
		Status:    domain.JobQueued,
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestHandleJobPostsReply(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := testWorker(t, st, &fakeResponder{reply: "All systems nominal."})

	msg := seedMessage(t, st)
	job := seedJob(t, st, msg.ID)

	w.HandleJob(*job)

	msgs, err := st.ListMessages(ctx, domain.DefaultConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want original + reply", len(msgs))
	}
	reply := msgs[1]
	if reply.Sender != "Fred" || reply.SenderType != domain.SenderAgent {
		t.Errorf("reply sender = %s/%s, want Fred/agent", reply.Sender, reply.SenderType)
	}
	if reply.Source != domain.SourceFred {
		t.Errorf("reply source = %s, want %s", reply.Source, domain.SourceFred)
	}
	if reply.ReplyToID != msg.ID {
		t.Errorf("reply replyToId = %s, want %s", reply.ReplyToID, msg.ID)
	}
	if !reply.Routing.ForwardToTelegram || !reply.Routing.ForwardSet {
		t.Error("reply must request telegram forwarding explicitly")
	}
	if reply.Routing.NeedsFredReply {
		t.Error("reply must not request another reply")
	}

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !got.State.HandledByFred || !got.State.ResponsePosted {
		t.Error("original message not marked handled")
	}
	if got.State.Processing {
		t.Error("claim not released after completion")
	}

	j, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.JobDone {
		t.Errorf("job status = %s, want done", j.Status)
	}
}

func TestHandleJobDuplicateDeliveryPostsOneReply(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	responder := &fakeResponder{reply: "On it."}
	w := testWorker(t, st, responder)

	msg := seedMessage(t, st)
	job := seedJob(t, st, msg.ID)

	w.HandleJob(*job)
	w.HandleJob(*job) // at-least-once redelivery

	if responder.calls != 1 {
		t.Errorf("responder called %d times, want 1", responder.calls)
	}
	msgs, err := st.ListMessages(ctx, domain.DefaultConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want exactly one reply", len(msgs))
	}
	j, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.JobDone {
		t.Errorf("job status = %s, want done", j.Status)
	}
	if j.Attempts != 0 {
		t.Errorf("duplicate short-circuit charged %d attempts, want 0", j.Attempts)
	}
}

func TestHandleJobResponderFailureRetries(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := testWorker(t, st, &fakeResponder{err: errors.New("model overloaded")})

	msg := seedMessage(t, st)
	job := seedJob(t, st, msg.ID)

	w.HandleJob(*job)

	j, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.JobFailed {
		t.Errorf("job status = %s, want failed", j.Status)
	}
	if j.Attempts != 1 {
		t.Errorf("job attempts = %d, want 1", j.Attempts)
	}

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.State.Processing {
		t.Error("claim must be released on failure")
	}
	if got.State.Error == "" {
		t.Error("failure reason not recorded on message")
	}
	if got.State.HandledByFred {
		t.Error("failed message must stay unhandled")
	}
}

func TestHandleJobExhaustedRetriesDeadletters(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := testWorker(t, st, &fakeResponder{err: errors.New("model overloaded")})

	msg := seedMessage(t, st)
	job := seedJob(t, st, msg.ID)
	job.Attempts = 2 // two prior failures

	w.HandleJob(*job)

	j, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.JobDeadletter {
		t.Errorf("job status = %s, want deadletter", j.Status)
	}
	if j.Attempts != 3 {
		t.Errorf("job attempts = %d, want 3", j.Attempts)
	}
}

func TestHandleJobMissingMessageDeadletters(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := testWorker(t, st, &fakeResponder{reply: "unused"})

	job := seedJob(t, st, "no-such-message")
	w.HandleJob(*job)

	j, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.JobDeadletter {
		t.Errorf("job status = %s, want deadletter", j.Status)
	}
}

func TestHandleJobIgnoresUnknownKind(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	responder := &fakeResponder{reply: "unused"}
	w := testWorker(t, st, responder)

	msg := seedMessage(t, st)
	job := seedJob(t, st, msg.ID)
	job.Kind = "unknown_kind"

	w.HandleJob(*job)

	if responder.calls != 0 {
		t.Error("responder must not run for unknown kinds")
	}
	j, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.JobQueued {
		t.Errorf("job status = %s, want untouched queued", j.Status)
	}
}

func TestHandleJobSkipsTerminalStatus(t *testing.T) {
	st := testStore(t)
	responder := &fakeResponder{reply: "unused"}
	w := testWorker(t, st, responder)

	msg := seedMessage(t, st)
	job := seedJob(t, st, msg.ID)
	job.Status = domain.JobDone

	w.HandleJob(*job)

	if responder.calls != 0 {
		t.Error("responder must not run for terminal jobs")
	}
}

func TestHandleJobUsesInboundChatIDForReply(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := testWorker(t, st, &fakeResponder{reply: "Copy that."})

	msg := &domain.Message{
		Text:       "status?",
		Sender:     "Casey",
		SenderType: domain.SenderHuman,
		Source:     domain.ChannelTelegram,
		Channel:    domain.ChannelTelegram,
		ChatID:     "-100200300",
		Routing:    domain.Routing{NeedsFredReply: true},
	}
	if err := st.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	job := seedJob(t, st, msg.ID)

	w.HandleJob(*job)

	msgs, err := st.ListMessages(ctx, domain.DefaultConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].ChatID != "-100200300" {
		t.Errorf("reply chatId = %q, want the originating chat", msgs[1].ChatID)
	}
}
