// Package logging provides structured logging with per-module log level
// configuration.
//
// The logging system uses Go's slog package with automatic output routing:
// stdout (text or json), the systemd journal when journald is present, and an
// in-memory ring buffer that backs the /api/logs endpoint and the SSE log
// stream.
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"streams": "debug",
//			"api":     "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("pipeline")
//	logger.Info("Stream started", "stream_id", id)
//
// Module-specific levels override the global level for that module only, and
// can be changed at runtime with ApplyLevels, which the config watcher calls
// when the logging section of the YAML config changes.
//
// When running under systemd:
//
//	journalctl -t pyrowatch -f
//	journalctl -t pyrowatch MODULE=streams
package logging
