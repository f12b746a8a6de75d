// Package radio reconciles serving cell, neighbor list and cell info
// observations into per-family tower registers.
package radio

import (
	"context"
	"errors"
	"time"

	"github.com/satstat/satstat/pkg/cell"
)

var (
	// ErrPermissionDenied is returned by a source query the process may not run
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupported is returned by a source query the platform does not provide
	ErrUnsupported = errors.New("not supported by platform")
)

// Telephony is the modem interface the engine queries.
//
// Query methods may return no data (nil, nil), or an error wrapping
// ErrPermissionDenied or ErrUnsupported.
type Telephony interface {
	CellLocation(ctx context.Context) (*cell.CellLocation, error)
	AllCellInfo(ctx context.Context) ([]cell.CellInfo, error)
	NeighboringCellInfo(ctx context.Context) ([]cell.NeighboringCell, error)
	NetworkOperator() string
	NetworkType() int
	PhoneType() int
}

// Connectivity reports the active data connection
type Connectivity interface {
	// ActiveNetwork returns the connection type of the active network, or
	// ok=false when there is none.
	ActiveNetwork(ctx context.Context) (connType int, ok bool, err error)
}

// EventKind identifies what triggered a reconciliation
type EventKind int

const (
	EventRefresh EventKind = iota
	EventCellInfoChanged
	EventCellLocationChanged
	EventSignalStrengthsChanged
	EventDataConnectionStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventRefresh:
		return "refresh"
	case EventCellInfoChanged:
		return "cell_info_changed"
	case EventCellLocationChanged:
		return "cell_location_changed"
	case EventSignalStrengthsChanged:
		return "signal_strengths_changed"
	case EventDataConnectionStateChanged:
		return "data_connection_state_changed"
	default:
		return "unknown"
	}
}

// Event carries the data a platform callback delivered. Fields not set for
// the kind are queried from Telephony during the cycle.
type Event struct {
	Kind        EventKind
	CellInfo    []cell.CellInfo
	Location    *cell.CellLocation
	Signal      *cell.SignalStrength
	NetworkType int
}

// Snapshot is an independent copy of the engine state after a cycle
type Snapshot struct {
	Time       time.Time    `json:"time"`
	GSM        []cell.Tower `json:"gsm"`
	CDMA       []cell.Tower `json:"cdma"`
	LTE        []cell.Tower `json:"lte"`
	Serving    *cell.Tower  `json:"serving"`
	Generation int          `json:"generation"`
}

// Cells returns the towers of one family
func (s Snapshot) Cells(f cell.Family) []cell.Tower {
	switch f {
	case cell.FamilyGSM:
		return s.GSM
	case cell.FamilyCDMA:
		return s.CDMA
	case cell.FamilyLTE:
		return s.LTE
	}
	return nil
}

// Count returns the number of towers across all families
func (s Snapshot) Count() int {
	return len(s.GSM) + len(s.CDMA) + len(s.LTE)
}

// Observer receives a snapshot after every completed cycle
type Observer interface {
	OnCycle(Snapshot)
}

// Diagnostic kinds
const (
	KindPermissionDenied  = "permission_denied"
	KindUnsupported       = "unsupported"
	KindError             = "error"
	KindGenerationChanged = "generation_changed"
	KindPollExhausted     = "poll_exhausted"
	KindSignalMismatch    = "signal_mismatch"
)

// Diagnostic sources
const (
	SourceCellInfo  = "cellinfo"
	SourceLocation  = "location"
	SourceNeighbors = "neighbors"
	SourceNetwork   = "network"
	SourceSignal    = "signal"
)

// Diagnostic is a non-fatal condition met while reconciling
type Diagnostic struct {
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// IsSourceError reports whether the diagnostic stands for a failed query
func (d Diagnostic) IsSourceError() bool {
	switch d.Kind {
	case KindPermissionDenied, KindUnsupported, KindError:
		return true
	}
	return false
}

// DiagnosticObserver receives diagnostics. Observers added with AddObserver
// that implement it receive both.
type DiagnosticObserver interface {
	OnDiagnostic(Diagnostic)
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	default:
		return KindError
	}
}
