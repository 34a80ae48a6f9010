package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"none", SILENT, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestModuleLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)
	m := l.For("Scan")

	m.Info("hidden %d", 1)
	m.Warn("visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Scan] visible 2") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestZeroModuleWithoutGlobalLoggerIsNoop(t *testing.T) {
	var m Module
	m.Error("nothing %s", "here")
}

func TestSilentWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	if l.Enabled(ERROR) {
		t.Fatal("ERROR enabled at SILENT")
	}
	l.For("Scan").Error("dropped")
	if buf.Len() != 0 {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestColorPrefix(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).For("Decode").Debug("tick")
	if !strings.Contains(buf.String(), "\033[36m[DEBUG]\033[0m [Decode] tick") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
