package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "hallo", "k", 1)

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("TRACE-Level fehlt: %q", out)
	}
	if !strings.Contains(out, "source=logutil_test.go:") {
		t.Errorf("Quelle sollte nur Dateiname sein: %q", out)
	}
}

func TestNewLoggerInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	logger.Debug("versteckt")
	logger.Info("sichtbar")

	out := buf.String()
	if strings.Contains(out, "versteckt") {
		t.Errorf("DEBUG darf bei INFO nicht erscheinen: %q", out)
	}
	if strings.Contains(out, "source=") {
		t.Errorf("keine Quelle bei INFO erwartet: %q", out)
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	slog.SetDefault(NewLogger(&buf, LevelTrace))
	Trace("spur", "n", 2)
	if out := buf.String(); !strings.Contains(out, "msg=spur") || !strings.Contains(out, "n=2") {
		t.Errorf("Trace-Ausgabe fehlt: %q", out)
	}

	buf.Reset()
	slog.SetDefault(NewLogger(&buf, slog.LevelDebug))
	Trace("still")
	if buf.Len() != 0 {
		t.Errorf("Trace darf bei DEBUG nichts schreiben: %q", buf.String())
	}
}
