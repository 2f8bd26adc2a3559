package streams

import (
	"time"

	"github.com/pyrowatch/pyrowatch/internal/pipeline"
)

// Stream is a registered detection stream and its running pipeline.
type Stream struct {
	ID              string
	Source          string
	LifetimeMinutes int
	Persist         bool
	StartedAt       time.Time

	pipeline *pipeline.Pipeline
}

// ExpiresAt returns the expiry deadline, or zero time when the stream never
// expires (lifetime -1).
func (s *Stream) ExpiresAt() time.Time {
	if s.LifetimeMinutes < 0 {
		return time.Time{}
	}
	return s.StartedAt.Add(time.Duration(s.LifetimeMinutes) * time.Minute)
}

// Expired reports whether the stream has outlived its lifetime at now.
func (s *Stream) Expired(now time.Time) bool {
	deadline := s.ExpiresAt()
	return !deadline.IsZero() && now.After(deadline)
}

// Info is the API-facing snapshot of a stream.
type Info struct {
	ID              string         `json:"id" example:"6f1e0f0a-9b2e-4c8e-9a71-2f6d3f0a1b4c" doc:"Stream identifier"`
	Source          string         `json:"source" example:"rtsp://camera-01/live" doc:"Video source URL, file path, or camera index"`
	LifetimeMinutes int            `json:"lifetime_minutes" example:"10" doc:"Minutes until auto-expiry, -1 is unlimited"`
	Persist         bool           `json:"persist" doc:"Stream is restarted on service startup"`
	StartedAt       time.Time      `json:"started_at" doc:"When the stream was started"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty" doc:"Expiry deadline, absent when unlimited"`
	FeedURL         string         `json:"feed_url" example:"/api/detection/streams/6f1e0f0a/feed" doc:"Annotated MJPEG feed path"`
	Subscribers     int            `json:"subscribers" doc:"Connected feed consumers"`
	Stats           pipeline.Stats `json:"stats" doc:"Pipeline counters"`
}

// info builds an API snapshot from the live stream.
func (s *Stream) info() Info {
	out := Info{
		ID:              s.ID,
		Source:          s.Source,
		LifetimeMinutes: s.LifetimeMinutes,
		Persist:         s.Persist,
		StartedAt:       s.StartedAt,
		FeedURL:         "/api/detection/streams/" + s.ID + "/feed",
		Subscribers:     s.pipeline.Output().SubscriberCount(),
		Stats:           s.pipeline.Stats(),
	}
	if deadline := s.ExpiresAt(); !deadline.IsZero() {
		out.ExpiresAt = &deadline
	}
	return out
}
