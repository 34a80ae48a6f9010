// Command scanimage decodes every barcode and QR code in image files and,
// optionally, opens each payload at the chosen destination.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dj-oyu/codescan/internal/action"
	"github.com/dj-oyu/codescan/internal/decode"
	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/internal/source"
	"github.com/dj-oyu/codescan/pkg/types"
)

var (
	destination     = flag.String("destination", "google", "Where to open payloads (google, amazon)")
	kind            = flag.String("kind", "any", "Code type (any, barcode, qrcode)")
	open            = flag.Bool("open", false, "Open each payload in the browser")
	beep            = flag.Bool("beep", false, "Beep once per image with codes")
	recordTimestamp = flag.Bool("record-timestamp", false, "Attach the detection time to each result")
	historyPath     = flag.String("history", "", "Append results to this scan history file")
	jsonOut         = flag.Bool("json", false, "Print results as JSON lines")
	logLevel        = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
	logColor        = flag.Bool("log-color", true, "Enable colored log output")
)

// fileResult is one line of -json output.
type fileResult struct {
	File    string        `json:"file"`
	Symbols []scan.Symbol `json:"symbols"`
	Actions []scan.Action `json:"actions"`
	Error   string        `json:"error,omitempty"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] image|dir...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	dest, err := scan.ParseDestination(*destination)
	if err != nil {
		log.Fatalf("Invalid destination: %v", err)
	}
	symbolKind, err := scan.ParseKind(*kind)
	if err != nil {
		log.Fatalf("Invalid code type: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var history *recorder.Recorder
	if *historyPath != "" {
		history = recorder.NewRecorder(*historyPath)
		if err := history.Start(); err != nil {
			log.Fatalf("Failed to open scan history: %v", err)
		}
		defer history.Close()
	}

	s := &batch{
		decoder: decode.New(decode.Config{Kind: symbolKind, TryHarder: true, Multi: true}),
		opts: scan.ImageOptions{
			Destination:     dest,
			RecordTimestamp: *recordTimestamp,
			Metrics:         metrics.New(),
		},
		out:  os.Stdout,
		json: *jsonOut,
	}
	if *open || *beep || history != nil {
		cfg := action.Config{Tone: *beep, OpenBrowser: *open}
		var observers []action.Observer
		if history != nil {
			observers = append(observers, history)
		}
		s.sink = action.NewSink(cfg, observers...)
		s.beep = *beep
	}

	failed := false
	for _, arg := range flag.Args() {
		if err := s.scanPath(ctx, arg); err != nil {
			logger.Error("ScanImage", "%s: %v", arg, err)
			failed = true
		}
		if ctx.Err() != nil {
			break
		}
	}

	m := s.opts.Metrics
	logger.Info("ScanImage", "Scanned %d images, found %d codes, %d dispatch errors",
		m.ImagesScanned.Load(), m.SymbolsFound.Load(), m.DispatchErrors.Load())
	if failed {
		// os.Exit skips deferred calls; flush history first.
		if history != nil {
			history.Close()
		}
		os.Exit(1)
	}
}

type batch struct {
	decoder scan.Decoder
	sink    *action.Sink
	beep    bool
	opts    scan.ImageOptions
	out     io.Writer
	json    bool
}

// scanPath scans a single file, or every image of a directory in name order.
func (b *batch) scanPath(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		frame, err := source.LoadFrame(path)
		if err != nil {
			b.report(path, scan.ImageResult{}, err)
			return err
		}
		return b.scanFrame(ctx, path, frame)
	}

	dir, err := source.NewDirSource(path, 0, false)
	if err != nil {
		return err
	}
	defer dir.Release()

	var errs []error
	for {
		frame, err := dir.NextFrame(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(frame.Source, "file:")
		if err := b.scanFrame(ctx, name, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *batch) scanFrame(ctx context.Context, name string, frame types.Frame) error {
	var sink scan.ActionSink
	if b.sink != nil {
		sink = b.sink
	}
	res, err := scan.ScanImage(ctx, frame, b.decoder, sink, b.opts)
	if err == nil && b.beep && len(res.Symbols) > 0 {
		if nerr := b.sink.Notify(); nerr != nil {
			res.Warnings = append(res.Warnings, nerr)
		}
	}
	b.report(name, res, err)
	return err
}

func (b *batch) report(name string, res scan.ImageResult, err error) {
	for _, w := range res.Warnings {
		logger.Warn("ScanImage", "%s: %v", name, w)
	}

	if b.json {
		line := fileResult{File: name, Symbols: res.Symbols, Actions: res.Actions}
		if line.Symbols == nil {
			line.Symbols = []scan.Symbol{}
		}
		if line.Actions == nil {
			line.Actions = []scan.Action{}
		}
		if err != nil {
			line.Error = err.Error()
		}
		data, merr := json.Marshal(line)
		if merr != nil {
			logger.Error("ScanImage", "%s: %v", name, merr)
			return
		}
		fmt.Fprintln(b.out, string(data))
		return
	}

	if err != nil {
		return
	}
	if len(res.Symbols) == 0 {
		fmt.Fprintf(b.out, "%s: no codes found\n", name)
		return
	}
	for _, a := range res.Actions {
		u, _ := a.URL()
		fmt.Fprintf(b.out, "%s: Detected %s: %s\t%s\n", name, a.Format, a.Payload, u)
	}
}
