package pipeline

import (
	"sync"
)

// Output fans annotated JPEG frames out to feed subscribers. Every
// subscriber gets its own bounded queue; when a consumer is slower than the
// pipeline the oldest queued frame is dropped so the newest always wins and
// inference never stalls on a slow HTTP client.
type Output struct {
	mu        sync.Mutex
	subs      map[uint64]chan []byte
	nextID    uint64
	queueSize int
	closed    bool
}

// NewOutput creates an output broadcaster with the given per-subscriber
// queue size.
func NewOutput(queueSize int) *Output {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Output{
		subs:      make(map[uint64]chan []byte),
		queueSize: queueSize,
	}
}

// Subscribe registers a consumer. The returned channel is closed when the
// pipeline ends. The cancel function detaches the consumer without affecting
// the stream.
func (o *Output) Subscribe() (<-chan []byte, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan []byte, o.queueSize)
	if o.closed {
		close(ch)
		return ch, func() {}
	}

	id := o.nextID
	o.nextID++
	o.subs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}
}

// Publish delivers a frame to all subscribers, dropping each subscriber's
// oldest queued frame on overflow. Never blocks.
func (o *Output) Publish(frame []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	for _, ch := range o.subs {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of attached consumers.
func (o *Output) SubscriberCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// Close ends the broadcast; all subscriber channels are closed so feed
// readers observe end-of-stream. Idempotent.
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
