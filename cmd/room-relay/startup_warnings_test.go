package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/meshsignal/room-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &recordingHandler{mu: h.mu, records: h.records}
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(string) slog.Handler {
	return h
}

func warningCodes(records []recordedLog) []string {
	var codes []string
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

func hasCode(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"*"},
		MaxRooms:       100,
	}

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); !hasCode(codes, "allowed_origins_wildcard") {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %v", codes)
	}
}

func TestStartupSecurityWarnings_UnlimitedRoomsInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:     config.ModeProd,
		MaxRooms: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); !hasCode(codes, "max_rooms_unlimited_in_prod") {
		t.Fatalf("expected warning_code=max_rooms_unlimited_in_prod, got %v", codes)
	}
}

func TestStartupSecurityWarnings_QuietWhenConfigured(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:            config.ModeProd,
		AllowedOrigins:  []string{"https://app.example.com"},
		MaxRooms:        100,
		MaxMessageBytes: 64 * 1024,
	}

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("expected no warnings, got %v", codes)
	}
}

func TestStartupSecurityWarnings_LargeMessageCap(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:            config.ModeDev,
		MaxRooms:        100,
		MaxMessageBytes: 8 << 20,
	}

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); !hasCode(codes, "max_message_bytes_large") {
		t.Fatalf("expected warning_code=max_message_bytes_large, got %v", codes)
	}
}
