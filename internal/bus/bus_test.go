package bus

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"missionctl/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestTriggerBus_MessageDelivery(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	b.OnMessageCreated(func(m domain.Message) {
		if m.ID == "m1" {
			got.Add(1)
		}
		wg.Done()
	})
	b.OnMessageCreated(func(m domain.Message) {
		got.Add(1)
		wg.Done()
	})

	b.PublishMessage(domain.Message{ID: "m1"})
	wg.Wait()

	if got.Load() != 2 {
		t.Errorf("expected both handlers invoked, got %d", got.Load())
	}
}

func TestTriggerBus_JobDelivery(t *testing.T) {
	b := New(testLogger())

	done := make(chan domain.Job, 1)
	b.OnJobCreated(func(j domain.Job) { done <- j })

	b.PublishJob(domain.Job{ID: "j1", Kind: domain.JobFredReply})

	select {
	case j := <-done:
		if j.Kind != domain.JobFredReply {
			t.Errorf("unexpected kind %q", j.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("job trigger never delivered")
	}
	b.Close()
}

func TestTriggerBus_OutboundRouting(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var telegram, web atomic.Int32
	b.OnOutbound("telegram", func(m domain.OutboundMessage) { telegram.Add(1) })
	b.OnOutbound("web", func(m domain.OutboundMessage) { web.Add(1) })

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Text: "hi"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Text: "again"})

	if telegram.Load() != 2 || web.Load() != 0 {
		t.Errorf("expected telegram=2 web=0, got telegram=%d web=%d", telegram.Load(), web.Load())
	}
}

func TestTriggerBus_UnknownOutboundChannelNoops(t *testing.T) {
	b := New(testLogger())
	defer b.Close()
	// Must not panic.
	b.SendOutbound(domain.OutboundMessage{Channel: "missing", Text: "x"})
}

func TestTriggerBus_CloseDropsPublishes(t *testing.T) {
	b := New(testLogger())

	var got atomic.Int32
	b.OnMessageCreated(func(m domain.Message) { got.Add(1) })
	b.Close()

	b.PublishMessage(domain.Message{ID: "late"})
	time.Sleep(20 * time.Millisecond)

	if got.Load() != 0 {
		t.Errorf("publish after close should drop, handler ran %d times", got.Load())
	}
}

func TestTriggerBus_PanicRecovery(t *testing.T) {
	b := New(testLogger())

	ran := make(chan struct{})
	b.OnMessageCreated(func(m domain.Message) { panic("boom") })
	b.OnMessageCreated(func(m domain.Message) { close(ran) })

	b.PublishMessage(domain.Message{ID: "m"})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("second handler should still run after a panic")
	}
	b.Close()
}
