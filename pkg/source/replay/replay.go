// Package replay feeds recorded radio observations to the engine.
//
// A scenario file is a JSON document holding a list of frames. Each frame is
// the full platform state at one point in time; Advance steps to the next
// frame and reports the events a platform would have raised for the change.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/satstat/satstat/pkg"
	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/radio"
)

// Query names usable in a frame's denied and unsupported lists
const (
	QueryLocation     = "location"
	QueryCellInfo     = "cellinfo"
	QueryNeighbors    = "neighbors"
	QueryConnectivity = "connectivity"
)

// Scenario is the decoded scenario file
type Scenario struct {
	Loop   bool    `json:"loop"`
	Frames []Frame `json:"frames"`
}

// Frame is the platform state at one replay step
type Frame struct {
	NetworkOperator string `json:"network_operator"`
	NetworkType     int    `json:"network_type"`
	PhoneType       int    `json:"phone_type"`
	// Connection is the active connection type; nil means no active network
	Connection *int `json:"connection,omitempty"`

	Location  *cell.CellLocation   `json:"location,omitempty"`
	CellInfo  []CellInfo           `json:"cell_info,omitempty"`
	Neighbors []Neighbor           `json:"neighbors,omitempty"`
	Signal    *cell.SignalStrength `json:"signal,omitempty"`

	Denied      []string `json:"denied,omitempty"`
	Unsupported []string `json:"unsupported,omitempty"`
}

// CellInfo is a cell info entry as written in a scenario. Missing identity
// fields decode as Unknown.
type CellInfo struct {
	Type       string `json:"type"`
	Registered bool   `json:"registered"`
	Dbm        *int   `json:"dbm,omitempty"`
	MCC        *int   `json:"mcc,omitempty"`
	MNC        *int   `json:"mnc,omitempty"`
	LAC        *int   `json:"lac,omitempty"`
	CID        *int   `json:"cid,omitempty"`
	PSC        *int   `json:"psc,omitempty"`
	TAC        *int   `json:"tac,omitempty"`
	CI         *int   `json:"ci,omitempty"`
	PCI        *int   `json:"pci,omitempty"`
	SID        *int   `json:"sid,omitempty"`
	NID        *int   `json:"nid,omitempty"`
	BSID       *int   `json:"bsid,omitempty"`
}

// Neighbor is a neighbor list entry as written in a scenario
type Neighbor struct {
	NetworkType int  `json:"network_type"`
	LAC         *int `json:"lac,omitempty"`
	CID         *int `json:"cid,omitempty"`
	PSC         *int `json:"psc,omitempty"`
	RSSI        *int `json:"rssi,omitempty"`
}

var cellInfoTypes = map[string]cell.CellInfoType{
	"gsm":   cell.CellInfoGSM,
	"cdma":  cell.CellInfoCDMA,
	"wcdma": cell.CellInfoWCDMA,
	"lte":   cell.CellInfoLTE,
}

func orUnknown(v *int) int {
	if v == nil {
		return cell.Unknown
	}
	return *v
}

func (c CellInfo) convert() cell.CellInfo {
	dbm := cell.DBMUnknown
	if c.Dbm != nil {
		dbm = *c.Dbm
	}
	return cell.CellInfo{
		Type:       cellInfoTypes[strings.ToLower(c.Type)],
		Registered: c.Registered,
		Dbm:        dbm,
		MCC:        orUnknown(c.MCC),
		MNC:        orUnknown(c.MNC),
		LAC:        orUnknown(c.LAC),
		CID:        orUnknown(c.CID),
		PSC:        orUnknown(c.PSC),
		TAC:        orUnknown(c.TAC),
		CI:         orUnknown(c.CI),
		PCI:        orUnknown(c.PCI),
		SID:        orUnknown(c.SID),
		NID:        orUnknown(c.NID),
		BSID:       orUnknown(c.BSID),
	}
}

func (n Neighbor) convert() cell.NeighboringCell {
	rssi := pkg.UnknownRSSI
	if n.RSSI != nil {
		rssi = *n.RSSI
	}
	return cell.NeighboringCell{
		NetworkType: n.NetworkType,
		LAC:         orUnknown(n.LAC),
		CID:         orUnknown(n.CID),
		PSC:         orUnknown(n.PSC),
		RSSI:        rssi,
	}
}

func contains(list []string, query string) bool {
	for _, q := range list {
		if strings.EqualFold(q, query) {
			return true
		}
	}
	return false
}

// queryErr returns the error the platform raises for query in this frame
func (f Frame) queryErr(query string) error {
	if contains(f.Denied, query) {
		return fmt.Errorf("replay %s: %w", query, radio.ErrPermissionDenied)
	}
	if contains(f.Unsupported, query) {
		return fmt.Errorf("replay %s: %w", query, radio.ErrUnsupported)
	}
	return nil
}

func (f Frame) cellInfo() []cell.CellInfo {
	if len(f.CellInfo) == 0 {
		return nil
	}
	out := make([]cell.CellInfo, len(f.CellInfo))
	for i, c := range f.CellInfo {
		out[i] = c.convert()
	}
	return out
}

// connected reports whether the frame has an active data connection of any type
func (f Frame) connected() bool {
	return f.Connection != nil
}

// Source replays a scenario. It implements radio.Telephony and radio.Connectivity.
type Source struct {
	mu     sync.Mutex
	frames []Frame
	loop   bool
	index  int
}

// Load reads a scenario file
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario document
func Parse(data []byte) (*Source, error) {
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse replay file: %w", err)
	}
	if len(sc.Frames) == 0 {
		return nil, fmt.Errorf("replay file has no frames")
	}
	for i, f := range sc.Frames {
		for _, c := range f.CellInfo {
			if _, ok := cellInfoTypes[strings.ToLower(c.Type)]; !ok {
				return nil, fmt.Errorf("frame %d: unknown cell info type %q", i, c.Type)
			}
		}
	}
	return New(sc.Frames, sc.Loop), nil
}

// New creates a source positioned at the first frame
func New(frames []Frame, loop bool) *Source {
	return &Source{frames: frames, loop: loop}
}

// Index returns the position of the current frame
func (s *Source) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Len returns the number of frames
func (s *Source) Len() int { return len(s.frames) }

func (s *Source) current() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[s.index]
}

// Advance moves to the next frame and returns the events it implies. The last
// frame sticks unless the scenario loops; a frame without observations yields
// a single refresh.
func (s *Source) Advance() []radio.Event {
	s.mu.Lock()
	prev := s.frames[s.index]
	switch {
	case s.index+1 < len(s.frames):
		s.index++
	case s.loop:
		s.index = 0
	}
	next := s.frames[s.index]
	s.mu.Unlock()

	return Events(prev, next)
}

// Events returns the platform events raised when moving from prev to next
func Events(prev, next Frame) []radio.Event {
	var events []radio.Event

	if next.NetworkType != prev.NetworkType || next.connected() != prev.connected() {
		events = append(events, radio.Event{Kind: radio.EventDataConnectionStateChanged, NetworkType: next.NetworkType})
	}
	if next.Location != nil && next.queryErr(QueryLocation) == nil {
		loc := *next.Location
		events = append(events, radio.Event{Kind: radio.EventCellLocationChanged, Location: &loc})
	}
	if next.Signal != nil {
		sig := *next.Signal
		events = append(events, radio.Event{Kind: radio.EventSignalStrengthsChanged, Signal: &sig})
	}
	if ci := next.cellInfo(); ci != nil && next.queryErr(QueryCellInfo) == nil {
		events = append(events, radio.Event{Kind: radio.EventCellInfoChanged, CellInfo: ci})
	}

	if len(events) == 0 {
		events = append(events, radio.Event{Kind: radio.EventRefresh})
	}
	return events
}

// CellLocation returns the frame's serving cell location
func (s *Source) CellLocation(ctx context.Context) (*cell.CellLocation, error) {
	f := s.current()
	if err := f.queryErr(QueryLocation); err != nil {
		return nil, err
	}
	if f.Location == nil {
		return nil, nil
	}
	loc := *f.Location
	return &loc, nil
}

// AllCellInfo returns the frame's cell info list
func (s *Source) AllCellInfo(ctx context.Context) ([]cell.CellInfo, error) {
	f := s.current()
	if err := f.queryErr(QueryCellInfo); err != nil {
		return nil, err
	}
	return f.cellInfo(), nil
}

// NeighboringCellInfo returns the frame's neighbor list
func (s *Source) NeighboringCellInfo(ctx context.Context) ([]cell.NeighboringCell, error) {
	f := s.current()
	if err := f.queryErr(QueryNeighbors); err != nil {
		return nil, err
	}
	if len(f.Neighbors) == 0 {
		return nil, nil
	}
	out := make([]cell.NeighboringCell, len(f.Neighbors))
	for i, n := range f.Neighbors {
		out[i] = n.convert()
	}
	return out, nil
}

// NetworkOperator returns the numeric operator of the current frame
func (s *Source) NetworkOperator() string { return s.current().NetworkOperator }

// NetworkType returns the network type code of the current frame
func (s *Source) NetworkType() int { return s.current().NetworkType }

// PhoneType returns the phone type of the current frame
func (s *Source) PhoneType() int { return s.current().PhoneType }

// ActiveNetwork returns the frame's active connection
func (s *Source) ActiveNetwork(ctx context.Context) (int, bool, error) {
	f := s.current()
	if err := f.queryErr(QueryConnectivity); err != nil {
		return 0, false, err
	}
	if f.Connection == nil {
		return 0, false, nil
	}
	return *f.Connection, true, nil
}
