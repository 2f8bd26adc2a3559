package events

// Event type constants for kelindar/event.
const (
	TypeStreamStarted uint32 = iota + 1
	TypeStreamStopped
	TypeStreamExpired
	TypeDetection
	TypeDeviceStatus
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Detection is a single detected object as carried in events.
type Detection struct {
	Label      string  `json:"label" example:"fire" doc:"Detected class label"`
	Confidence float32 `json:"confidence" example:"0.87" doc:"Detection confidence score"`
	X1         int     `json:"x1" doc:"Left edge in source pixels"`
	Y1         int     `json:"y1" doc:"Top edge in source pixels"`
	X2         int     `json:"x2" doc:"Right edge in source pixels"`
	Y2         int     `json:"y2" doc:"Bottom edge in source pixels"`
}

// StreamStartedEvent is published when a stream pipeline starts.
type StreamStartedEvent struct {
	StreamID        string `json:"stream_id" example:"6f1e0f0a-9b2e-4c8e-9a71-2f6d3f0a1b4c" doc:"Stream identifier"`
	Source          string `json:"source" example:"rtsp://camera-01/live" doc:"Video source"`
	LifetimeMinutes int    `json:"lifetime_minutes" example:"10" doc:"Configured lifetime, -1 is unlimited"`
	Timestamp       string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStartedEvent.
func (e StreamStartedEvent) Type() uint32 { return TypeStreamStarted }

// StreamStoppedEvent is published when a stream is stopped by request or at
// shutdown.
type StreamStoppedEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Reason    string `json:"reason" example:"requested" doc:"Why the stream stopped: requested, shutdown, source-ended"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStoppedEvent.
func (e StreamStoppedEvent) Type() uint32 { return TypeStreamStopped }

// StreamExpiredEvent is published when the cleanup sweep expires a stream.
type StreamExpiredEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Source    string `json:"source" doc:"Video source"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamExpiredEvent.
func (e StreamExpiredEvent) Type() uint32 { return TypeStreamExpired }

// DetectionEvent is published when a frame yields at least one detection.
type DetectionEvent struct {
	StreamID   string      `json:"stream_id" doc:"Stream identifier"`
	Sequence   uint64      `json:"sequence" doc:"Frame sequence number"`
	Detections []Detection `json:"detections" doc:"Detections found in the frame"`
	Timestamp  string      `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for DetectionEvent.
func (e DetectionEvent) Type() uint32 { return TypeDetection }

// DeviceStatusEvent carries an accelerator monitor snapshot.
type DeviceStatusEvent struct {
	DeviceCount int    `json:"device_count" example:"1" doc:"Number of accelerator devices found"`
	Timestamp   string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceStatusEvent.
func (e DeviceStatusEvent) Type() uint32 { return TypeDeviceStatus }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2026-01-27T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
