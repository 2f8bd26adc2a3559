package pipeline

import (
	"testing"
)

func TestOutputDeliversToSubscribers(t *testing.T) {
	out := NewOutput(4)
	defer out.Close()

	ch1, cancel1 := out.Subscribe()
	ch2, cancel2 := out.Subscribe()
	defer cancel1()
	defer cancel2()

	if got := out.SubscriberCount(); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	out.Publish([]byte("frame-1"))
	for i, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case frame := <-ch:
			if string(frame) != "frame-1" {
				t.Errorf("subscriber %d: got %q", i, frame)
			}
		default:
			t.Fatalf("subscriber %d: no frame delivered", i)
		}
	}
}

func TestOutputDropsOldestWhenFull(t *testing.T) {
	out := NewOutput(2)
	defer out.Close()

	ch, cancel := out.Subscribe()
	defer cancel()

	out.Publish([]byte("a"))
	out.Publish([]byte("b"))
	out.Publish([]byte("c")) // overflows, "a" must go

	if got := string(<-ch); got != "b" {
		t.Errorf("expected oldest surviving frame b, got %q", got)
	}
	if got := string(<-ch); got != "c" {
		t.Errorf("expected newest frame c, got %q", got)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra frame %q", extra)
	default:
	}
}

func TestOutputUnsubscribe(t *testing.T) {
	out := NewOutput(4)
	defer out.Close()

	_, cancel := out.Subscribe()
	cancel()
	cancel() // safe to call twice

	if got := out.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", got)
	}

	// Publishing with no subscribers is a no-op
	out.Publish([]byte("x"))
}

func TestOutputClose(t *testing.T) {
	out := NewOutput(4)
	ch, cancel := out.Subscribe()
	defer cancel()

	out.Close()
	out.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed after Close")
	}

	// Subscribing after close yields an already-closed channel
	late, lateCancel := out.Subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Error("late subscriber should get a closed channel")
	}

	out.Publish([]byte("after-close"))
}
