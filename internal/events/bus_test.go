package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan StreamStartedEvent, 1)

	unsub := bus.Subscribe(func(e StreamStartedEvent) {
		received <- e
	})
	defer unsub()

	ev := StreamStartedEvent{
		StreamID:        "abc",
		Source:          "rtsp://camera-01/live",
		LifetimeMinutes: 10,
		Timestamp:       "2026-01-27T10:30:00Z",
	}
	bus.Publish(ev)

	got := <-received
	if got.StreamID != ev.StreamID {
		t.Errorf("Expected stream_id %s, got %s", ev.StreamID, got.StreamID)
	}
	if got.Source != ev.Source {
		t.Errorf("Expected source %s, got %s", ev.Source, got.Source)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan DetectionEvent, 1)
	received2 := make(chan DetectionEvent, 1)

	unsub1 := bus.Subscribe(func(e DetectionEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e DetectionEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(DetectionEvent{
		StreamID:   "abc",
		Detections: []Detection{{Label: "fire", Confidence: 0.9}},
	})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan StreamStoppedEvent, 1)

	unsub := bus.Subscribe(func(e StreamStoppedEvent) {
		received <- e
	})

	bus.Publish(StreamStoppedEvent{StreamID: "abc"})
	<-received

	unsub()
	bus.Publish(StreamStoppedEvent{StreamID: "def"})

	select {
	case e := <-received:
		t.Errorf("Expected no event after unsubscribe, got %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)

	unsub := SubscribeToChannel[StreamExpiredEvent](bus, ch)
	defer unsub()

	bus.Publish(StreamExpiredEvent{StreamID: "one"})
	bus.Publish(StreamExpiredEvent{StreamID: "two"})

	// Allow async dispatch to settle
	time.Sleep(50 * time.Millisecond)

	if len(ch) != 1 {
		t.Fatalf("Expected 1 buffered event, got %d", len(ch))
	}
}
