package broker

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hirameki/internal/model"
)

// testLogger returns a logger for tests that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func event(t model.EventType, seq int64) model.ProgressEvent {
	return model.ProgressEvent{Type: t, RunID: uuid.Nil, Seq: seq, OccurredAt: time.Now()}
}

func TestBrokerFanOut(t *testing.T) {
	b := New(testLogger())

	// Subscribe two clients.
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Publish(event(model.EventRunStarted, 1))

	for i, ch := range []chan model.ProgressEvent{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != model.EventRunStarted {
				t.Errorf("subscriber %d: got %q, want %q", i, got.Type, model.EventRunStarted)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timed out waiting for event", i)
		}
	}

	// Unsubscribe ch1, publish again: only ch2 should receive.
	b.Unsubscribe(ch1)
	b.Publish(event(model.EventAgentStarted, 2))

	select {
	case got := <-ch2:
		if got.Type != model.EventAgentStarted {
			t.Errorf("ch2: got %q, want %q", got.Type, model.EventAgentStarted)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	if _, open := <-ch1; open {
		t.Error("ch1 should be closed after Unsubscribe")
	}

	b.Unsubscribe(ch2)
}

func TestBrokerSlowSubscriber(t *testing.T) {
	b := New(testLogger())

	// A slow subscriber that never reads, and a fast one.
	slow := b.Subscribe()
	fast := b.Subscribe()

	// Overflow the subscriber buffers.
	for i := range subscriberBuffer + 1 {
		b.Publish(event(model.EventAgentCompleted, int64(i)))
	}

	// The broker never blocked, and the fast subscriber has a full
	// buffer of events waiting.
	select {
	case <-fast:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast subscriber should receive events even when slow subscriber is blocked")
	}

	if b.Dropped() == 0 {
		t.Error("expected dropped count to grow once buffers overflow")
	}

	b.Unsubscribe(slow)
	b.Unsubscribe(fast)
}

func TestBrokerPreservesOrderPerSubscriber(t *testing.T) {
	b := New(testLogger())
	ch := b.Subscribe()

	for i := int64(1); i <= 10; i++ {
		b.Publish(event(model.EventAgentCompleted, i))
	}

	var last int64
	for i := 0; i < 10; i++ {
		select {
		case got := <-ch:
			if got.Seq <= last {
				t.Fatalf("out of order: seq %d after %d", got.Seq, last)
			}
			last = got.Seq
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timed out at event %d", i)
		}
	}

	b.Unsubscribe(ch)
}

func TestBrokerClose(t *testing.T) {
	b := New(testLogger())
	ch := b.Subscribe()

	b.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel should close when broker closes")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", b.SubscriberCount())
	}

	// Unsubscribe after Close must not panic.
	b.Unsubscribe(ch)

	// Subscribing after Close yields a closed channel.
	late := b.Subscribe()
	if _, open := <-late; open {
		t.Error("subscribe after close should return a closed channel")
	}
}
