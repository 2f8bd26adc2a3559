package streams

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/events"
	"github.com/pyrowatch/pyrowatch/internal/metrics"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	svc := NewService(&cfg, nil, events.New(), metrics.New(), nil)
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestStartRejectsEmptySource(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Start(StartRequest{Source: "   "})
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %v", err)
	}
}

func TestStartRejectsZeroLifetime(t *testing.T) {
	svc := newTestService(t)

	zero := 0
	_, err := svc.Start(StartRequest{Source: "rtsp://cam/live", LifetimeMinutes: &zero})
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %v", err)
	}

	below := -2
	_, err = svc.Start(StartRequest{Source: "rtsp://cam/live", LifetimeMinutes: &below})
	if !errors.As(err, &serr) || serr.Code != ErrCodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS for lifetime -2, got %v", err)
	}
}

func TestStartWithoutModel(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Start(StartRequest{Source: "rtsp://cam/live"})
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeModelNotReady {
		t.Fatalf("expected MODEL_NOT_READY, got %v", err)
	}
}

func TestRegisterRejectsDuplicateSource(t *testing.T) {
	svc := newTestService(t)
	defer clearRegistry(svc)

	first := &Stream{ID: "a", Source: "rtsp://cam-01/live", StartedAt: time.Now()}
	if _, err := svc.register(first); err != nil {
		t.Fatalf("first register: %v", err)
	}

	second := &Stream{ID: "b", Source: "rtsp://cam-01/live", StartedAt: time.Now()}
	_, err := svc.register(second)
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeStreamExists {
		t.Fatalf("expected STREAM_EXISTS, got %v", err)
	}

	if _, err := svc.register(&Stream{ID: "c", Source: "rtsp://cam-02/live"}); err != nil {
		t.Errorf("distinct source should register: %v", err)
	}
}

func TestRegisterConcurrentSameSource(t *testing.T) {
	svc := newTestService(t)
	defer clearRegistry(svc)

	// Source opening is slow, so concurrent starts for the same source all
	// pass the pre-open check; the locked insert must admit exactly one.
	const racers = 8
	var wg sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stream := &Stream{
				ID:        "racer-" + strconv.Itoa(i),
				Source:    "rtsp://cam-01/live",
				StartedAt: time.Now(),
			}
			if _, err := svc.register(stream); err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("expected exactly 1 registration, got %d", got)
	}
}

// clearRegistry empties the stream map so the Shutdown cleanup does not try
// to stop pipelines the test never created.
func clearRegistry(svc *Service) {
	svc.mu.Lock()
	svc.streams = make(map[string]*Stream)
	svc.mu.Unlock()
}

func TestStopUnknownStream(t *testing.T) {
	svc := newTestService(t)

	err := svc.Stop("no-such-id")
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeStreamNotFound {
		t.Fatalf("expected STREAM_NOT_FOUND, got %v", err)
	}
}

func TestGetUnknownStream(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get("no-such-id")
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeStreamNotFound {
		t.Fatalf("expected STREAM_NOT_FOUND, got %v", err)
	}

	if _, _, err := svc.Subscribe("no-such-id"); err == nil {
		t.Fatal("expected error subscribing to unknown stream")
	}
}

func TestListEmpty(t *testing.T) {
	svc := newTestService(t)

	if got := svc.List(); len(got) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(got))
	}
}

func TestShutdownIdempotent(t *testing.T) {
	cfg := config.Default()
	svc := NewService(&cfg, nil, events.New(), metrics.New(), nil)

	svc.Shutdown()
	svc.Shutdown()
}

func TestStreamExpiry(t *testing.T) {
	now := time.Now()

	finite := &Stream{LifetimeMinutes: 10, StartedAt: now.Add(-11 * time.Minute)}
	if !finite.Expired(now) {
		t.Error("stream past its lifetime should be expired")
	}

	fresh := &Stream{LifetimeMinutes: 10, StartedAt: now.Add(-5 * time.Minute)}
	if fresh.Expired(now) {
		t.Error("stream within its lifetime should not be expired")
	}

	forever := &Stream{LifetimeMinutes: -1, StartedAt: now.Add(-1000 * time.Hour)}
	if forever.Expired(now) {
		t.Error("lifetime -1 must never expire")
	}
	if !forever.ExpiresAt().IsZero() {
		t.Error("lifetime -1 should have no deadline")
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStreamError(ErrCodeSourceOpenFailed, "could not open video source", cause)

	want := "SOURCE_OPEN_FAILED: could not open video source: connection refused"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable with errors.Is")
	}

	bare := NewStreamError(ErrCodeStreamNotFound, "no stream with id x", nil)
	if bare.Error() != "STREAM_NOT_FOUND: no stream with id x" {
		t.Errorf("unexpected message: %q", bare.Error())
	}
}
