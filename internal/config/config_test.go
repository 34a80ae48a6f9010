package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/codescan/internal/scan"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.DetectorEnabled())

	req, err := cfg.StartRequest()
	require.NoError(t, err)
	assert.Equal(t, scan.UnknownKind, req.Kind)
	assert.Equal(t, scan.Google, req.Destination)
	assert.Equal(t, scan.StopAfterFirst, req.Policy)
	assert.Equal(t, 3*time.Second, req.Cooldown)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
source:
  kind: mjpeg
  url: http://camera.local/stream
scan:
  kind: qrcode
  destination: amazon
  policy: continuous
  cooldown: 1500ms
detector:
  url: http://detector.local/detect
  threshold: 0.7
  classes: [book, box]
web:
  addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Color, "unset keys keep their defaults")
	assert.Equal(t, "mjpeg", cfg.Source.Kind)
	assert.Equal(t, "http://camera.local/stream", cfg.Source.URL)
	assert.Equal(t, ":9000", cfg.Web.Addr)
	assert.Equal(t, 75, cfg.Web.JPEGQuality)
	assert.True(t, cfg.DetectorEnabled())
	assert.Equal(t, []string{"book", "box"}, cfg.Detector.Classes)
	assert.Equal(t, 16, cfg.Detector.Padding)

	req, err := cfg.StartRequest()
	require.NoError(t, err)
	assert.Equal(t, scan.QRCode, req.Kind)
	assert.Equal(t, scan.Amazon, req.Destination)
	assert.Equal(t, scan.Continuous, req.Policy)
	assert.Equal(t, 1500*time.Millisecond, req.Cooldown)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "log:\n  level: loud\n"},
		{"bad kind", "scan:\n  kind: datamatrix\n"},
		{"bad destination", "scan:\n  destination: ebay\n"},
		{"bad policy", "scan:\n  policy: sometimes\n"},
		{"mjpeg without url", "source:\n  kind: mjpeg\n"},
		{"dir without path", "source:\n  kind: dir\n"},
		{"unknown source", "source:\n  kind: tape\n"},
		{"threshold out of range", "detector:\n  url: http://d\n  threshold: 2\n"},
		{"malformed", "scan: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
