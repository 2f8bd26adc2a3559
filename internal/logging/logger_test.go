package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	logBuffer = nil
	logCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"streams": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"streams", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			if got := handler.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(context.Background(), slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(context.Background(), slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestApplyLevelsAtRuntime(t *testing.T) {
	resetState()

	Initialize(Config{Level: "info", Format: "text"})
	logger := GetLogger("pipeline")

	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled before ApplyLevels")
	}

	ApplyLevels(Config{
		Level:   "info",
		Modules: map[string]string{"pipeline": "debug"},
	})

	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after ApplyLevels")
	}
}

func TestBufferReceivesEntries(t *testing.T) {
	resetState()

	Initialize(Config{Level: "info", Format: "text"})
	logger := GetLogger("testmod")

	logger.Info("hello", "key", "value")

	buffer := GetBuffer()
	if buffer == nil {
		t.Fatal("expected ring buffer after Initialize")
	}

	entries := buffer.ReadAll()
	if len(entries) == 0 {
		t.Fatal("expected at least one buffered entry")
	}

	last := entries[len(entries)-1]
	if last.Module != "testmod" {
		t.Errorf("module = %q, want testmod", last.Module)
	}
	if last.Message != "hello" {
		t.Errorf("message = %q, want hello", last.Message)
	}
	if last.Attributes["key"] != "value" {
		t.Errorf("attributes[key] = %v, want value", last.Attributes["key"])
	}
}

func TestLogCallbackInvoked(t *testing.T) {
	resetState()

	Initialize(Config{Level: "info", Format: "text"})

	received := make(chan LogEntry, 1)
	SetLogCallback(func(entry LogEntry) {
		select {
		case received <- entry:
		default:
		}
	})

	GetLogger("cbmod").Warn("something odd")

	entry := <-received
	if entry.Level != "warn" {
		t.Errorf("level = %q, want warn", entry.Level)
	}
	if entry.Module != "cbmod" {
		t.Errorf("module = %q, want cbmod", entry.Module)
	}
}

type recordingHandler struct {
	level   slog.Level
	records []slog.Record
	err     error
}

func (h *recordingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return h.err
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiHandlerFanOut(t *testing.T) {
	verbose := &recordingHandler{level: slog.LevelDebug}
	quiet := &recordingHandler{level: slog.LevelWarn}
	multi := NewMultiHandler(verbose, nil, quiet)

	ctx := context.Background()
	if !multi.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled while any handler accepts it")
	}

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "info msg", 0)
	if err := multi.Handle(ctx, rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(verbose.records) != 1 {
		t.Errorf("verbose handler got %d records, want 1", len(verbose.records))
	}
	if len(quiet.records) != 0 {
		t.Errorf("quiet handler got %d records, want 0 for info", len(quiet.records))
	}
}

func TestMultiHandlerJoinsErrors(t *testing.T) {
	sinkErr := context.DeadlineExceeded
	failing := &recordingHandler{level: slog.LevelDebug, err: sinkErr}
	healthy := &recordingHandler{level: slog.LevelDebug}
	multi := NewMultiHandler(failing, healthy)

	rec := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	err := multi.Handle(context.Background(), rec)
	if err == nil {
		t.Fatal("expected the sink error to surface")
	}
	if len(healthy.records) != 1 {
		t.Error("a failing sink must not block delivery to the others")
	}
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Write(LogEntry{Message: string(rune('a' + i))})
	}

	entries := rb.ReadAll()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after wrap, got %d", len(entries))
	}
	// Oldest two entries were overwritten
	if entries[0].Message != "c" || entries[2].Message != "e" {
		t.Errorf("unexpected order after wrap: %v", entries)
	}
}
