package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestInstrumentConsole(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, out string)
	}{
		{"text", "text", func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "trace_id=4bf92f3577b34da6a3ce929d0e0e4736") {
				t.Errorf("unexpected text output: %s", out)
			}
		}},
		{"json", "json", func(t *testing.T, out string) {
			var record map[string]any
			if err := json.Unmarshal([]byte(out), &record); err != nil {
				t.Fatalf("invalid JSON log line %q: %v", out, err)
			}
			if record["msg"] != "hello" || record["span_id"] != "00f067aa0ba902b7" {
				t.Errorf("unexpected record: %v", record)
			}
		}},
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			shutdown, err := instrument(context.Background(), &buf, slog.LevelInfo, tt.format, ExporterNone)
			if err != nil {
				t.Fatalf("instrument failed: %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			slog.DebugContext(ctx, "filtered")
			slog.InfoContext(ctx, "hello")

			out := strings.TrimSpace(buf.String())
			if strings.Contains(out, "filtered") {
				t.Errorf("debug record should be filtered at info level: %s", out)
			}
			tt.check(t, out)
		})
	}
}

func TestInstrumentInvalid(t *testing.T) {
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "xml", ExporterNone); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "text", "kafka"); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestFanout(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	logger := slog.New(fanout{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}).With("component", "test")

	logger.Info("info record")
	logger.Warn("warn record")

	if !strings.Contains(debugBuf.String(), "info record") || !strings.Contains(debugBuf.String(), "warn record") {
		t.Errorf("debug handler missing records: %s", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "info record") || !strings.Contains(warnBuf.String(), "component=test") {
		t.Errorf("warn handler output unexpected: %s", warnBuf.String())
	}
}

func TestSeverity(t *testing.T) {
	if severity(slog.LevelDebug) >= severity(slog.LevelInfo) {
		t.Error("debug must map below info")
	}
	if severity(slog.LevelError+4) != severity(slog.LevelError) {
		t.Error("levels above error map to error")
	}
}
