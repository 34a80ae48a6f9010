package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/codescan/internal/action"
	"github.com/dj-oyu/codescan/internal/config"
	"github.com/dj-oyu/codescan/internal/decode"
	"github.com/dj-oyu/codescan/internal/detect"
	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/internal/scanner"
	"github.com/dj-oyu/codescan/internal/shm"
	"github.com/dj-oyu/codescan/internal/source"
	"github.com/dj-oyu/codescan/internal/webmonitor"
	"github.com/dj-oyu/codescan/internal/webrtc"
)

var (
	// Command-line flags. Flags given explicitly override the config file.
	configPath      = flag.String("config", "", "YAML config file")
	httpAddr        = flag.String("http", ":8080", "HTTP server address")
	metricsAddr     = flag.String("metrics", "", "Standalone metrics server address (empty to disable)")
	sourceKind      = flag.String("source", "camera", "Frame source (camera, mjpeg, dir, image, shm)")
	device          = flag.Int("device", 0, "Camera device index")
	streamURL       = flag.String("url", "", "MJPEG stream URL")
	sourcePath      = flag.String("path", "", "Image file, directory or shared-memory name")
	detectorURL     = flag.String("detector", "", "Detector endpoint URL (empty scans the whole frame)")
	kind            = flag.String("kind", "any", "Code type (any, barcode, qrcode)")
	destination     = flag.String("destination", "google", "Where to open payloads (google, amazon)")
	policy          = flag.String("policy", "stop_after_first", "Detection policy (stop_after_first, report_all_in_frame, continuous)")
	cooldown        = flag.Duration("cooldown", 3*time.Second, "Repeat suppression window for continuous scans")
	recordTimestamp = flag.Bool("record-timestamp", false, "Log the detection time")
	historyPath     = flag.String("history", "./scan_history.jsonl", "Scan history file (empty to disable)")
	autoStart       = flag.Bool("auto-start", false, "Start a scan session at startup")
	maxClients      = flag.Int("max-clients", 4, "Maximum WebRTC preview clients (0 disables WebRTC)")
	stunServers     = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor        = flag.Bool("log-color", true, "Enable colored log output")
)

// App wires the scan pipeline to the web surface.
type App struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	history    *recorder.Recorder
	webrtc     *webrtc.Server
	hub        *webmonitor.Hub
	monitor    *webmonitor.Server
	controller *scanner.Controller
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Code scanner starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start scanner: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Scanner stopped")
}

// loadConfig applies the config file, if any, then the flags set on the command line.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	explicit := func(name string) bool { return *configPath == "" || set[name] }

	if explicit("http") {
		cfg.Web.Addr = *httpAddr
	}
	if explicit("metrics") {
		cfg.Metrics.Addr = *metricsAddr
	}
	if explicit("source") {
		cfg.Source.Kind = *sourceKind
	}
	if explicit("device") {
		cfg.Source.Device = *device
	}
	if explicit("url") {
		cfg.Source.URL = *streamURL
	}
	if explicit("path") {
		cfg.Source.Path = *sourcePath
	}
	if explicit("detector") {
		cfg.Detector.URL = *detectorURL
	}
	if explicit("kind") {
		cfg.Scan.Kind = *kind
	}
	if explicit("destination") {
		cfg.Scan.Destination = *destination
	}
	if explicit("policy") {
		cfg.Scan.Policy = *policy
	}
	if explicit("cooldown") {
		cfg.Scan.Cooldown = *cooldown
	}
	if explicit("record-timestamp") {
		cfg.Scan.RecordTimestamp = *recordTimestamp
	}
	if explicit("history") {
		cfg.History.Path = *historyPath
		cfg.History.Enabled = *historyPath != ""
	}
	if explicit("auto-start") {
		cfg.Scan.AutoStart = *autoStart
	}
	if explicit("max-clients") {
		cfg.WebRTC.MaxClients = *maxClients
		cfg.WebRTC.Enabled = *maxClients > 0
	}
	if explicit("stun") {
		cfg.WebRTC.STUNServers = splitList(*stunServers)
	}
	if explicit("log-level") {
		cfg.Log.Level = *logLevel
	}
	if explicit("log-color") {
		cfg.Log.Color = *logColor
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewApp creates every component; nothing runs until Start.
func NewApp(cfg *config.Config) (*App, error) {
	m := metrics.New()
	httpClient := resty.New()

	app := &App{cfg: cfg, metrics: m}

	hub := webmonitor.NewHub(cfg.Web, m)
	app.hub = hub

	observers := []action.Observer{hub.Feed}
	if cfg.History.Enabled {
		app.history = recorder.NewRecorder(cfg.History.Path)
		observers = append(observers, app.history)
	}
	sink := action.NewSink(cfg.Action, observers...)

	var filter scan.RegionFilter
	if cfg.DetectorEnabled() {
		client, err := detect.New(cfg.Detector, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create detector client: %w", err)
		}
		filter = client
	}

	defaults, err := cfg.StartRequest()
	if err != nil {
		return nil, err
	}

	sourceCfg := cfg.Source
	ctrl, err := scanner.New(scanner.Options{
		OpenSource: func() (scan.FrameSource, error) {
			return source.Open(sourceCfg, httpClient)
		},
		NewDecoder: func() scan.Decoder {
			return decode.New(decode.DefaultConfig())
		},
		Filter:   filter,
		Sink:     sink,
		Display:  hub.Frames,
		Metrics:  m,
		Cooldown: defaults.Cooldown,
		OnChange: hub.SessionChanged,
	})
	if err != nil {
		return nil, err
	}
	app.controller = ctrl

	deps := webmonitor.Deps{
		Controller: ctrl,
		Metrics:    m.Handler(),
		Defaults:   defaults,
	}
	if app.history != nil {
		deps.History = app.history
	}
	if cfg.WebRTC.Enabled {
		app.webrtc = webrtc.NewServer(cfg.WebRTC.STUNServers, cfg.WebRTC.MaxClients)
		hub.Frames.AddSink(app.webrtc)
		hub.Detections.AddSink(app.webrtc)
		deps.WebRTC = app.webrtc
	}

	app.monitor = webmonitor.NewServer(cfg.Web, hub, deps)
	app.httpServer = &http.Server{
		Addr:    cfg.Web.Addr,
		Handler: app.monitor.Handler(),
	}
	return app, nil
}

// Start opens the history file, starts the listeners and, when configured,
// the first scan session.
func (a *App) Start() error {
	logger.Info("Main", "Starting code scanner...")
	logger.Info("Main", "  HTTP server: %s", a.cfg.Web.Addr)
	logger.Info("Main", "  Frame source: %s", describeSource(a.cfg))
	if a.cfg.DetectorEnabled() {
		logger.Info("Main", "  Detector: %s (threshold %.2f)", a.cfg.Detector.URL, a.cfg.Detector.Threshold)
	} else {
		logger.Info("Main", "  Detector: disabled, scanning full frames")
	}
	logger.Info("Main", "  Camera support: %v, shared memory support: %v", source.CameraSupported, shm.Supported)

	if a.history != nil {
		if err := a.history.Start(); err != nil {
			return fmt.Errorf("failed to open scan history: %w", err)
		}
		logger.Info("Main", "  Scan history: %s", a.history.Path())
	}

	if a.cfg.Metrics.Addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.cfg.Metrics.Addr)
			if err := a.metrics.StartServer(a.cfg.Metrics.Addr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", a.cfg.Web.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if a.cfg.Scan.AutoStart {
		req, err := a.cfg.StartRequest()
		if err != nil {
			return err
		}
		if _, err := a.controller.Start(req); err != nil {
			return fmt.Errorf("failed to start scan session: %w", err)
		}
	}

	logger.Info("Main", "Scanner started successfully")
	return nil
}

func describeSource(cfg *config.Config) string {
	switch cfg.Source.Kind {
	case "mjpeg":
		return "mjpeg " + cfg.Source.URL
	case "dir", "image", "shm":
		return cfg.Source.Kind + " " + cfg.Source.Path
	default:
		return fmt.Sprintf("camera #%d", cfg.Source.Device)
	}
}

// Shutdown stops the session, the listeners and the history writer.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.controller.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scan session: %w", err))
	}

	a.monitor.Close()
	if a.webrtc != nil {
		if err := a.webrtc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("webrtc: %w", err))
		}
	}
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scan history: %w", err))
		}
	}
	return errors.Join(errs...)
}
