package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"sentra/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	ch := b.Subscribe("test")
	b.Publish(domain.Event{Type: domain.EventConfigChanged, Timestamp: time.Now()})

	select {
	case ev := <-ch:
		if ev.Type != domain.EventConfigChanged {
			t.Fatalf("got %v, want config-changed", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	b.Subscribe("slow")
	// First fills the buffer, second is dropped; neither may block.
	done := make(chan struct{})
	go func() {
		b.Publish(domain.Event{Type: domain.EventPatternAlert})
		b.Publish(domain.Event{Type: domain.EventPatternAlert})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	ch := b.Subscribe("x")
	b.Unsubscribe("x")

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()
	// Must not panic.
	b.Publish(domain.Event{Type: domain.EventExecutionComplete})
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	a := b.Subscribe("a")
	c := b.Subscribe("c")
	b.Publish(domain.Event{Type: domain.EventLevelChanged})

	for _, ch := range []<-chan domain.Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != domain.EventLevelChanged {
				t.Fatalf("got %v", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}
