package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satstat/satstat/pkg"
	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/retry"
)

// Config holds reconciliation engine configuration
type Config struct {
	// NetworkRefresh is the delay between network type polls
	NetworkRefresh time.Duration `json:"network_refresh"`
	// NetworkPollAttempts bounds a single network type poll
	NetworkPollAttempts int `json:"network_poll_attempts"`
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		NetworkRefresh:      time.Second,
		NetworkPollAttempts: 60,
	}
}

// Engine merges observations into the GSM, CDMA and LTE registers.
//
// All merge work runs under one mutex so cycles never interleave. Observers
// are called after the mutex is released, in the order they were added.
type Engine struct {
	config Config
	tel    Telephony
	conn   Connectivity
	logger *logx.Logger
	now    func() time.Time

	mu      sync.Mutex
	gsm     *cell.GSMRegister
	cdma    *cell.CDMARegister
	lte     *cell.LTERegister
	serving *cell.Tower
	lastGen int
	lastAsu int
	lastDbm int

	// completion time of the last cycle, zero before the first
	lastCycle time.Time

	observers   []Observer
	diagnostics []DiagnosticObserver

	ctx        context.Context
	cancel     context.CancelFunc
	pollCancel context.CancelFunc
	pollSeq    uint64
	wg         sync.WaitGroup
}

// NewEngine creates an engine reading from tel and conn
func NewEngine(config Config, tel Telephony, conn Connectivity, logger *logx.Logger) *Engine {
	if config.NetworkRefresh <= 0 {
		config.NetworkRefresh = DefaultConfig().NetworkRefresh
	}
	if config.NetworkPollAttempts <= 0 {
		config.NetworkPollAttempts = DefaultConfig().NetworkPollAttempts
	}
	if logger == nil {
		logger = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:  config,
		tel:     tel,
		conn:    conn,
		logger:  logger.With("component", "engine"),
		now:     time.Now,
		gsm:     cell.NewGSMRegister(),
		cdma:    cell.NewCDMARegister(),
		lte:     cell.NewLTERegister(),
		lastAsu: pkg.UnknownRSSI,
		lastDbm: cell.DBMUnknown,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddObserver registers o for cycle snapshots, and for diagnostics if it
// implements DiagnosticObserver.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
	if d, ok := o.(DiagnosticObserver); ok {
		e.diagnostics = append(e.diagnostics, d)
	}
}

// AddDiagnosticObserver registers d for diagnostics only
func (e *Engine) AddDiagnosticObserver(d DiagnosticObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.diagnostics = append(e.diagnostics, d)
}

// Run performs an initial full cycle, resolves the network type and then
// handles events until ctx is done or events is closed.
func (e *Engine) Run(ctx context.Context, events <-chan Event) error {
	e.Handle(ctx, Event{Kind: EventRefresh})
	e.OnNetworkTypeChanged(ctx, e.tel.NetworkType())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle processes one event
func (e *Engine) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventCellInfoChanged:
		e.UpdateCellData(ctx, nil, nil, ev.CellInfo)
	case EventCellLocationChanged:
		e.UpdateCellData(ctx, ev.Location, nil, nil)
	case EventSignalStrengthsChanged:
		e.UpdateCellData(ctx, nil, ev.Signal, nil)
	case EventDataConnectionStateChanged:
		e.OnNetworkTypeChanged(ctx, ev.NetworkType)
	default:
		e.UpdateCellData(ctx, nil, nil, nil)
	}
}

// UpdateCellData runs a full cycle. A nil location or cell info list is
// queried from Telephony; a nil signal leaves the last reading in place.
func (e *Engine) UpdateCellData(ctx context.Context, location *cell.CellLocation, signal *cell.SignalStrength, cellInfo []cell.CellInfo) {
	e.mu.Lock()
	diags := e.updateCellData(ctx, location, signal, cellInfo)
	e.lastCycle = e.now()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap, diags)
}

// OnNetworkTypeChanged re-resolves the network generation. Crossing into or
// out of 4G runs a full cycle because cells may have been filed under the
// wrong family; other changes only update the serving cell.
func (e *Engine) OnNetworkTypeChanged(ctx context.Context, networkType int) {
	e.mu.Lock()
	newGen := cell.GenerationFromNetworkType(networkType)
	oldGen := e.lastGen
	if newGen == oldGen {
		e.mu.Unlock()
		return
	}

	e.cancelPollLocked()
	e.lastGen = newGen
	e.logger.Debug("network generation changed", "from", oldGen, "to", newGen, "network_type", pkg.NetworkTypeName(networkType))
	diags := []Diagnostic{e.diagnostic(SourceNetwork, KindGenerationChanged, fmt.Sprintf("generation %d -> %d", oldGen, newGen))}

	if newGen == 4 || oldGen == 4 {
		diags = append(diags, e.updateCellData(ctx, nil, nil, nil)...)
	} else if e.serving != nil {
		e.serving.SetNetworkType(networkType)
		e.logger.Debug("serving cell network type updated", "generation", e.serving.Generation(), "cell", e.serving.Text(), "alt", e.serving.AltText())
	}
	e.lastCycle = e.now()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap, diags)
}

// Snapshot returns a copy of the current registers and serving cell. Its
// Time is the completion of the last cycle, zero before the first one.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Generation returns the last observed network generation
func (e *Engine) Generation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGen
}

// PollPending reports whether a network type poll is scheduled
func (e *Engine) PollPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pollCancel != nil
}

// Close cancels a pending network type poll and waits for it to exit
func (e *Engine) Close() {
	e.mu.Lock()
	e.cancelPollLocked()
	e.cancel()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) updateCellData(ctx context.Context, location *cell.CellLocation, signal *cell.SignalStrength, cellInfo []cell.CellInfo) []Diagnostic {
	var diags []Diagnostic
	networkOperator := e.tel.NetworkOperator()

	// Cell info
	if cellInfo == nil {
		var err error
		if cellInfo, err = e.tel.AllCellInfo(ctx); err != nil {
			diags = append(diags, e.sourceFailed(SourceCellInfo, err))
		} else {
			e.updateAllCellInfo(cellInfo)
		}
	} else {
		e.updateAllCellInfo(cellInfo)
	}

	// Cell location
	if location == nil {
		var err error
		if location, err = e.tel.CellLocation(ctx); err != nil {
			diags = append(diags, e.sourceFailed(SourceLocation, err))
		} else {
			e.updateLocation(networkOperator, location)
		}
	} else {
		e.updateLocation(networkOperator, location)
	}

	// Signal strength
	if d, ok := e.updateSignal(signal); ok {
		diags = append(diags, d)
	}

	// Neighbors
	neighbors, err := e.tel.NeighboringCellInfo(ctx)
	if err != nil {
		diags = append(diags, e.sourceFailed(SourceNeighbors, err))
	} else {
		e.gsm.UpdateAllNeighbors(networkOperator, neighbors)
		e.lte.UpdateAllNeighbors(networkOperator, neighbors)
	}

	// Network generation
	if e.serving == nil || e.serving.Generation() <= 0 {
		if e.lastGen != 0 && e.serving != nil {
			e.serving.SetGeneration(e.lastGen)
		}
		if !e.onMobileNetwork(ctx) {
			e.schedulePollLocked()
		}
	} else {
		e.lastGen = e.serving.Generation()
	}

	return diags
}

func (e *Engine) updateAllCellInfo(cellInfo []cell.CellInfo) {
	e.gsm.UpdateAllCellInfo(cellInfo)
	e.cdma.UpdateAllCellInfo(cellInfo)
	e.lte.UpdateAllCellInfo(cellInfo)
}

// updateLocation files the serving cell. A GSM style location belongs to the
// LTE register once the network is known to be 4G.
func (e *Engine) updateLocation(networkOperator string, location *cell.CellLocation) {
	e.gsm.RemoveSource(cell.SourceCellLocation)
	e.cdma.RemoveSource(cell.SourceCellLocation)
	e.lte.RemoveSource(cell.SourceCellLocation)
	e.serving = nil

	switch {
	case location == nil:
	case location.GSM != nil:
		if e.lastGen < 4 {
			e.serving = e.gsm.UpdateLocation(networkOperator, *location.GSM)
		} else {
			e.serving = e.lte.UpdateLocation(networkOperator, *location.GSM)
		}
	case location.CDMA != nil:
		e.serving = e.cdma.UpdateLocation(*location.CDMA)
	}

	if e.serving != nil {
		if e.serving.Text() == "" && e.serving.AltText() == "" {
			e.logger.Debug("serving cell has no identity", "family", e.serving.Family().String())
		}
		if !e.serving.HasDbm() {
			e.applyLastReading()
		}
	}
	e.cancelPollLocked()
}

// applyLastReading copies the remembered signal reading to the serving cell.
// The ASU comes from the GSM phone type, so an LTE serving cell gets the
// GSM conversion too.
func (e *Engine) applyLastReading() bool {
	switch e.serving.Family() {
	case cell.FamilyGSM, cell.FamilyLTE:
		if e.lastAsu == pkg.UnknownRSSI {
			return false
		}
		e.serving.SetDbm(cell.DbmFromGSMAsu(e.lastAsu))
	case cell.FamilyCDMA:
		if e.lastDbm == cell.DBMUnknown {
			return false
		}
		e.serving.SetDbm(e.lastDbm)
	}
	return true
}

// updateSignal remembers a supplied reading and applies it to the serving
// cell unless the cell info or neighbor list measured it.
func (e *Engine) updateSignal(signal *cell.SignalStrength) (Diagnostic, bool) {
	if signal == nil {
		return Diagnostic{}, false
	}

	phoneType := signal.PhoneType
	if phoneType == pkg.PhoneTypeNone {
		phoneType = e.tel.PhoneType()
	}

	var family cell.Family
	switch phoneType {
	case pkg.PhoneTypeGSM:
		e.lastAsu = signal.GSMAsu
		family = cell.FamilyGSM
	case pkg.PhoneTypeCDMA:
		e.lastDbm = signal.CDMADbm
		family = cell.FamilyCDMA
	default:
		e.logger.Warn("signal strength for unknown phone type", "phone_type", phoneType)
		return e.diagnostic(SourceSignal, KindSignalMismatch, fmt.Sprintf("unknown phone type %d", phoneType)), true
	}

	if e.serving == nil {
		e.logger.Warn("signal strength but no serving cell")
		return Diagnostic{}, false
	}

	servingFamily := e.serving.Family()
	if family == cell.FamilyGSM && servingFamily == cell.FamilyLTE {
		servingFamily = cell.FamilyGSM
	}
	if servingFamily != family {
		e.logger.Warn("signal strength family does not match serving cell", "phone_type", phoneType, "serving", e.serving.Family().String())
		return e.diagnostic(SourceSignal, KindSignalMismatch, fmt.Sprintf("phone type %d, serving %s", phoneType, e.serving.Family())), true
	}

	// measured strength wins over the reported reading
	if e.serving.HasDbm() && (e.serving.IsCellInfo() || e.serving.IsNeighbor()) {
		return Diagnostic{}, false
	}
	e.applyLastReading()
	return Diagnostic{}, false
}

func (e *Engine) onMobileNetwork(ctx context.Context) bool {
	if e.conn == nil {
		return false
	}
	connType, ok, err := e.conn.ActiveNetwork(ctx)
	if err != nil {
		e.logger.Debug("active network unavailable", "error", err)
		return false
	}
	return ok && pkg.IsMobileConnection(connType)
}

// schedulePollLocked starts a bounded poll of the network type that hands
// the first changed generation to OnNetworkTypeChanged. An already running
// poll is left alone.
func (e *Engine) schedulePollLocked() {
	if e.pollCancel != nil || e.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.pollSeq++
	seq := e.pollSeq
	e.pollCancel = cancel
	runner := retry.NewRunner(retry.FixedConfig(e.config.NetworkPollAttempts, e.config.NetworkRefresh))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		var networkType int
		err := runner.Poll(ctx, func(context.Context) (bool, error) {
			networkType = e.tel.NetworkType()
			return cell.GenerationFromNetworkType(networkType) != e.Generation(), nil
		})

		e.mu.Lock()
		if e.pollSeq == seq {
			e.pollCancel = nil
		}
		e.mu.Unlock()

		switch {
		case err == nil:
			e.OnNetworkTypeChanged(e.ctx, networkType)
		case errors.Is(err, retry.ErrExhausted):
			e.logger.Warn("network type poll exhausted", "attempts", e.config.NetworkPollAttempts)
			e.notify(Snapshot{}, []Diagnostic{e.diagnostic(SourceNetwork, KindPollExhausted, "network type did not change")})
		}
	}()
}

func (e *Engine) cancelPollLocked() {
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Time:       e.lastCycle,
		GSM:        e.gsm.Snapshot(),
		CDMA:       e.cdma.Snapshot(),
		LTE:        e.lte.Snapshot(),
		Generation: e.lastGen,
	}
	if e.serving != nil && e.serving.HasSource() {
		serving := *e.serving
		snap.Serving = &serving
	}
	return snap
}

func (e *Engine) sourceFailed(source string, err error) Diagnostic {
	kind := classify(err)
	if kind == KindUnsupported {
		e.logger.Debug("source not supported", "source", source, "error", err)
	} else {
		e.logger.Warn("source query failed, no data this cycle", "source", source, "kind", kind, "error", err)
	}
	return e.diagnostic(source, kind, err.Error())
}

func (e *Engine) diagnostic(source, kind, message string) Diagnostic {
	return Diagnostic{Time: e.now(), Source: source, Kind: kind, Message: message}
}

// notify delivers diagnostics and, if snap holds a cycle, the snapshot.
// It must be called without holding mu.
func (e *Engine) notify(snap Snapshot, diags []Diagnostic) {
	e.mu.Lock()
	observers := append([]Observer(nil), e.observers...)
	diagnostics := append([]DiagnosticObserver(nil), e.diagnostics...)
	e.mu.Unlock()

	for _, d := range diags {
		for _, o := range diagnostics {
			o.OnDiagnostic(d)
		}
	}
	if snap.Time.IsZero() {
		return
	}
	for _, o := range observers {
		o.OnCycle(snap)
	}
}
