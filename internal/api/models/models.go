// Package models contains the API request and response types.
package models

import (
	"github.com/pyrowatch/pyrowatch/internal/device"
	"github.com/pyrowatch/pyrowatch/internal/logging"
	"github.com/pyrowatch/pyrowatch/internal/streams"
)

// HealthData is the health check payload.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Message string `json:"message" example:"API is healthy" doc:"Health detail"`
}

// HealthResponse wraps the health check payload.
type HealthResponse struct {
	Body HealthData
}

// StartStreamRequest is the body for creating a detection stream.
type StartStreamRequest struct {
	Body struct {
		Source          string `json:"source" example:"rtsp://camera-01/live" doc:"Video source URL, file path, or camera index" minLength:"1"`
		LifetimeMinutes *int   `json:"lifetime_minutes,omitempty" example:"10" doc:"Minutes until auto-expiry, -1 is unlimited. Defaults to the configured lifetime."`
		Persist         bool   `json:"persist,omitempty" doc:"Restart this stream when the service restarts"`
	}
}

// StreamResponse wraps a single stream snapshot.
type StreamResponse struct {
	Body streams.Info
}

// StreamListData is the stream listing payload.
type StreamListData struct {
	Streams []streams.Info `json:"streams" doc:"Active streams"`
	Count   int            `json:"count" example:"2" doc:"Number of active streams"`
}

// StreamListResponse wraps the stream listing payload.
type StreamListResponse struct {
	Body StreamListData
}

// DevicesResponse wraps the accelerator snapshot.
type DevicesResponse struct {
	Body device.Snapshot
}

// LogsData is the recent-logs payload.
type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries returned"`
}

// LogsResponse wraps the recent-logs payload.
type LogsResponse struct {
	Body LogsData
}
