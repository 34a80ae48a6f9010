package scan

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dj-oyu/codescan/pkg/types"
)

// SymbolKind classifies a decoded symbol.
type SymbolKind int

const (
	UnknownKind SymbolKind = iota
	Barcode
	QRCode
)

var kindNames = map[SymbolKind]string{
	UnknownKind: "unknown",
	Barcode:     "barcode",
	QRCode:      "qrcode",
}

func (k SymbolKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Label is the display form used in detection messages ("Barcode", "Qrcode").
func (k SymbolKind) Label() string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

func (k SymbolKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *SymbolKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind parses "barcode", "qrcode"/"qr" or ""/"any"/"unknown".
func ParseKind(s string) (SymbolKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "barcode":
		return Barcode, nil
	case "qrcode", "qr", "qr_code":
		return QRCode, nil
	case "", "any", "unknown":
		return UnknownKind, nil
	default:
		return UnknownKind, fmt.Errorf("invalid code kind: %s", s)
	}
}

// Symbol is one machine-readable code found in a frame.
type Symbol struct {
	Kind    SymbolKind   `json:"kind"`
	Format  string       `json:"format"`
	Payload string       `json:"payload"`
	Region  types.Region `json:"region"`
}

// Destination selects where a decoded payload is opened.
type Destination int

const (
	Google Destination = iota
	Amazon
)

var destinationTemplates = map[Destination]string{
	Google: "https://www.google.com/search?q=%s",
	Amazon: "https://www.amazon.com/s?k=%s",
}

var destinationNames = map[Destination]string{
	Google: "Google",
	Amazon: "Amazon",
}

func (d Destination) String() string {
	if s, ok := destinationNames[d]; ok {
		return s
	}
	return "unknown"
}

// URL returns the search URL for payload. The payload is query-escaped.
func (d Destination) URL(payload string) (string, error) {
	tmpl, ok := destinationTemplates[d]
	if !ok {
		return "", fmt.Errorf("unknown destination %d", int(d))
	}
	return fmt.Sprintf(tmpl, url.QueryEscape(payload)), nil
}

func (d Destination) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Destination) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseDestination(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDestination parses a destination name, case-insensitively. Empty means Google.
func ParseDestination(s string) (Destination, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "google", "a":
		return Google, nil
	case "amazon", "b":
		return Amazon, nil
	default:
		return Google, fmt.Errorf("invalid destination: %s", s)
	}
}

// Policy decides what a session does once a frame yields symbols.
type Policy int

const (
	// StopAfterFirst dispatches the first symbol and ends the session.
	StopAfterFirst Policy = iota
	// ReportAllInFrame dispatches every symbol of the detecting frame, then ends the session.
	ReportAllInFrame
	// Continuous dispatches the first symbol of each frame and keeps scanning.
	Continuous
)

var policyNames = map[Policy]string{
	StopAfterFirst:   "stop_after_first",
	ReportAllInFrame: "report_all_in_frame",
	Continuous:       "continuous",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePolicy parses a policy name. Empty means StopAfterFirst.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop_after_first", "first":
		return StopAfterFirst, nil
	case "report_all_in_frame", "all":
		return ReportAllInFrame, nil
	case "continuous":
		return Continuous, nil
	default:
		return StopAfterFirst, fmt.Errorf("invalid policy: %s", s)
	}
}

// stopsOnDetect reports whether a detection ends the session.
func (p Policy) stopsOnDetect() bool {
	return p != Continuous
}

// Action is a request to the action sink.
type Action struct {
	SessionID   string      `json:"session_id,omitempty"`
	Destination Destination `json:"destination"`
	Payload     string      `json:"payload"`
	Kind        SymbolKind  `json:"kind"`
	Format      string      `json:"format,omitempty"`
	Timestamp   *time.Time  `json:"timestamp,omitempty"`
}

// URL returns the destination URL for the action payload.
func (a Action) URL() (string, error) {
	return a.Destination.URL(a.Payload)
}

// State is the scan session state.
type State int

const (
	Idle State = iota
	Running
	Stopped
	Failed
)

var stateNames = map[State]string{
	Idle:    "idle",
	Running: "running",
	Stopped: "stopped",
	Failed:  "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminal reports whether the state ends the session.
func (s State) IsTerminal() bool {
	return s == Stopped || s == Failed
}
