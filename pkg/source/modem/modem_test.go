package modem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satstat/satstat/pkg"
	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
	"github.com/satstat/satstat/pkg/retry"
)

const (
	lteServing   = "+QENG: \"servingcell\",\"NOCONN\",\"LTE\",\"FDD\",240,01,18BCF1F,443,1300,3,5,5,17,-84,-8,-53,17,0,-,43\r\n\r\nOK\r\n"
	wcdmaServing = "+QENG: \"servingcell\",\"NOCONN\",\"WCDMA\",262,01,3E9,1A2B3,10737,312,1,-85,-6,-,-,-,-,-\r\n\r\nOK\r\n"
	gsmServing   = "+QENG: \"servingcell\",\"NOCONN\",\"GSM\",262,01,3E9,2B7A,52,3,900,-64,0\r\n\r\nOK\r\n"
	searching    = "+QENG: \"servingcell\",\"SEARCH\"\r\n\r\nOK\r\n"

	neighbourCells = "+QENG: \"neighbourcell intra\",\"LTE\",1300,443,-8,-84,-53,17,52,7\r\n" +
		"+QENG: \"neighbourcell intra\",\"LTE\",1300,101,-11,-97,-70,4,40,7\r\n" +
		"+QENG: \"neighbourcell inter\",\"LTE\",6300,-,-,-,-,-,0,0\r\n" +
		"+QENG: \"neighbourcell\",\"WCDMA\",10737,0,14,16,312,-92,-9,20\r\n" +
		"+QENG: \"neighbourcell\",\"GSM\",262,01,3E9,2B7B,52,900,-70\r\n" +
		"\r\nOK\r\n"
)

type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string][]error
	calls     map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: map[string]string{
			cmdServingCell:   lteServing,
			cmdNeighbourCell: neighbourCells,
			cmdSignal:        "+CSQ: 20,99\r\n\r\nOK\r\n",
			cmdAttached:      "+CGATT: 1\r\n\r\nOK\r\n",
		},
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *fakeExecutor) set(at, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[at] = output
}

// fail queues errors returned before the response for at
func (f *fakeExecutor) fail(at string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[at] = append(f.errs[at], errs...)
}

func (f *fakeExecutor) count(at string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[at]
}

func (f *fakeExecutor) Run(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for at, out := range f.responses {
		if !strings.Contains(command, "'"+at+"'") {
			continue
		}
		f.calls[at]++
		if queued := f.errs[at]; len(queued) > 0 {
			f.errs[at] = queued[1:]
			return "", queued[0]
		}
		return out, nil
	}
	return "", errors.New("unexpected command " + command)
}

func newTestModem(exec Executor) *Modem {
	config := DefaultConfig()
	config.Retry = retry.FixedConfig(3, time.Millisecond)
	return New(config, exec, logx.Nop())
}

func TestParseServingCell(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		expected    servingCell
		operator    string
		networkType int
	}{
		{"lte", lteServing, servingCell{State: "NOCONN", RAT: "LTE", MCC: 240, MNC: "01", Area: 0x17, Cell: 0x18BCF1F, Code: 443, Dbm: -84}, "24001", pkg.NetworkTypeLTE},
		{"wcdma", wcdmaServing, servingCell{State: "NOCONN", RAT: "WCDMA", MCC: 262, MNC: "01", Area: 0x3E9, Cell: 0x1A2B3, Code: 312, Dbm: -85}, "26201", pkg.NetworkTypeUMTS},
		{"gsm", gsmServing, servingCell{State: "NOCONN", RAT: "GSM", MCC: 262, MNC: "01", Area: 0x3E9, Cell: 0x2B7A, Code: cell.Unknown, Dbm: -64}, "26201", pkg.NetworkTypeGPRS},
		{"searching", searching, servingCell{State: "SEARCH", MCC: cell.Unknown, Area: cell.Unknown, Cell: cell.Unknown, Code: cell.Unknown, Dbm: cell.DBMUnknown}, "", pkg.NetworkTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseServingCell(tt.output)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.expected {
				t.Errorf("parseServingCell() = %+v; want %+v", got, tt.expected)
			}
			if got.networkOperator() != tt.operator {
				t.Errorf("networkOperator() = %q; want %q", got.networkOperator(), tt.operator)
			}
			if got.networkType() != tt.networkType {
				t.Errorf("networkType() = %d; want %d", got.networkType(), tt.networkType)
			}
		})
	}

	if _, err := parseServingCell("OK\r\n"); err == nil {
		t.Error("expected error without servingcell line")
	}
}

func TestServingCellConversions(t *testing.T) {
	s, _ := parseServingCell(searching)
	if s.location() != nil {
		t.Error("searching modem should report no location")
	}
	if _, ok := s.cellInfo(); ok {
		t.Error("searching modem should report no cell info")
	}
	if s.phoneType() != pkg.PhoneTypeNone {
		t.Error("searching modem has no phone type")
	}

	s, _ = parseServingCell(wcdmaServing)
	ci, ok := s.cellInfo()
	if !ok || ci.Type != cell.CellInfoWCDMA || ci.LAC != 0x3E9 || ci.CID != 0x1A2B3 || ci.PSC != 312 || ci.MNC != 1 || !ci.Registered {
		t.Errorf("unexpected WCDMA cell info %+v", ci)
	}
	loc := s.location()
	if loc == nil || *loc.GSM != (cell.GSMLocation{LAC: 0x3E9, CID: 0x1A2B3, PSC: 312}) {
		t.Errorf("unexpected location %+v", loc)
	}
}

func TestParseNeighbours(t *testing.T) {
	n := parseNeighbours(neighbourCells)

	if len(n.LTE) != 2 {
		t.Fatalf("expected 2 LTE neighbours without the inter-frequency entry, got %d", len(n.LTE))
	}
	if n.LTE[0].PCI != 443 || n.LTE[0].Dbm != -84 || n.LTE[0].CI != cell.Unknown || n.LTE[0].Registered {
		t.Errorf("unexpected LTE neighbour %+v", n.LTE[0])
	}

	if len(n.Legacy) != 2 {
		t.Fatalf("expected 2 legacy neighbours, got %d", len(n.Legacy))
	}
	wcdma := n.Legacy[0]
	if wcdma.NetworkType != pkg.NetworkTypeUMTS || wcdma.PSC != 312 || wcdma.RSSI != 24 || wcdma.CID != cell.Unknown {
		t.Errorf("unexpected WCDMA neighbour %+v", wcdma)
	}
	gsm := n.Legacy[1]
	if gsm.NetworkType != pkg.NetworkTypeGPRS || gsm.LAC != 0x3E9 || gsm.CID != 0x2B7B || gsm.RSSI != 21 {
		t.Errorf("unexpected GSM neighbour %+v", gsm)
	}
}

func TestParseSignalAndAttach(t *testing.T) {
	asu, err := parseCSQ("+CSQ: 20,99\r\n\r\nOK\r\n")
	if err != nil || asu != 20 {
		t.Errorf("parseCSQ() = %d, %v", asu, err)
	}
	if _, err := parseCSQ("+CSQ: x,99"); err == nil {
		t.Error("expected error for malformed CSQ")
	}
	if _, err := parseCSQ("OK"); err == nil {
		t.Error("expected error without CSQ line")
	}

	attached, err := parseCGATT("+CGATT: 1\r\nOK")
	if err != nil || !attached {
		t.Errorf("parseCGATT(1) = %v, %v", attached, err)
	}
	attached, err = parseCGATT("+CGATT: 0\r\nOK")
	if err != nil || attached {
		t.Errorf("parseCGATT(0) = %v, %v", attached, err)
	}
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantErr     bool
		unsupported bool
	}{
		{"ok", "+CSQ: 20,99\r\nOK\r\n", false, false},
		{"error", "ERROR\r\n", true, false},
		{"cme error", "+CME ERROR: 10\r\n", true, false},
		{"not supported", "+CME ERROR: 4\r\n", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := responseError(cmdSignal, tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("responseError() = %v; wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, radio.ErrUnsupported) != tt.unsupported {
				t.Errorf("unsupported = %v; want %v", errors.Is(err, radio.ErrUnsupported), tt.unsupported)
			}
		})
	}
}

func TestTelephonyQueries(t *testing.T) {
	exec := newFakeExecutor()
	m := newTestModem(exec)
	ctx := context.Background()

	info, err := m.AllCellInfo(ctx)
	if err != nil {
		t.Fatalf("AllCellInfo: %v", err)
	}
	if len(info) != 3 || !info[0].Registered || info[0].CI != 0x18BCF1F || info[0].TAC != 0x17 {
		t.Fatalf("unexpected cell info %+v", info)
	}
	if m.NetworkOperator() != "24001" || m.NetworkType() != pkg.NetworkTypeLTE || m.PhoneType() != pkg.PhoneTypeGSM {
		t.Errorf("unexpected state %q/%d/%d", m.NetworkOperator(), m.NetworkType(), m.PhoneType())
	}

	loc, err := m.CellLocation(ctx)
	if err != nil || loc == nil || loc.GSM.CID != 0x18BCF1F || loc.GSM.PSC != 443 {
		t.Fatalf("CellLocation() = %+v, %v", loc, err)
	}
	neighbors, err := m.NeighboringCellInfo(ctx)
	if err != nil || len(neighbors) != 2 {
		t.Fatalf("NeighboringCellInfo() = %+v, %v", neighbors, err)
	}

	if exec.count(cmdServingCell) != 1 || exec.count(cmdNeighbourCell) != 1 {
		t.Errorf("responses within the cache TTL should be reused: serving=%d neighbour=%d",
			exec.count(cmdServingCell), exec.count(cmdNeighbourCell))
	}

	connType, ok, err := m.ActiveNetwork(ctx)
	if err != nil || !ok || connType != pkg.ConnectionTypeMobile {
		t.Errorf("ActiveNetwork() = %d, %v, %v", connType, ok, err)
	}
	exec.set(cmdAttached, "+CGATT: 0\r\nOK\r\n")
	m.cache = make(map[string]cached)
	if _, ok, err := m.ActiveNetwork(ctx); err != nil || ok {
		t.Errorf("detached modem should report no active network, got %v, %v", ok, err)
	}
}

func TestCacheExpires(t *testing.T) {
	exec := newFakeExecutor()
	m := newTestModem(exec)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.CellLocation(ctx)
	m.CellLocation(ctx)
	now = now.Add(time.Second)
	m.CellLocation(ctx)

	if got := exec.count(cmdServingCell); got != 2 {
		t.Errorf("expected 2 queries across the TTL, got %d", got)
	}
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("permission denied is not retried", func(t *testing.T) {
		exec := newFakeExecutor()
		exec.fail(cmdServingCell, exitError("gsmctl", 126, errors.New("exit status 126")))
		m := newTestModem(exec)

		if _, err := m.CellLocation(ctx); !errors.Is(err, radio.ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
		if exec.count(cmdServingCell) != 1 {
			t.Errorf("expected 1 attempt, got %d", exec.count(cmdServingCell))
		}
	})

	t.Run("unsupported response", func(t *testing.T) {
		exec := newFakeExecutor()
		exec.set(cmdNeighbourCell, "+CME ERROR: 4\r\n")
		m := newTestModem(exec)

		if _, err := m.NeighboringCellInfo(ctx); !errors.Is(err, radio.ErrUnsupported) {
			t.Fatalf("expected unsupported, got %v", err)
		}
		info, err := m.AllCellInfo(ctx)
		if err != nil || len(info) != 1 {
			t.Errorf("cell info should fall back to the serving cell, got %d entries, %v", len(info), err)
		}
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		exec := newFakeExecutor()
		exec.fail(cmdServingCell, errors.New("timeout"))
		m := newTestModem(exec)

		if _, err := m.CellLocation(ctx); err != nil {
			t.Fatalf("expected success after retry, got %v", err)
		}
		if exec.count(cmdServingCell) != 2 {
			t.Errorf("expected 2 attempts, got %d", exec.count(cmdServingCell))
		}
	})
}

func eventKinds(events []radio.Event) []radio.EventKind {
	kinds := make([]radio.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestPoll(t *testing.T) {
	exec := newFakeExecutor()
	m := newTestModem(exec)
	ctx := context.Background()

	events := m.Poll(ctx)
	kinds := eventKinds(events)
	if len(kinds) != 2 || kinds[0] != radio.EventDataConnectionStateChanged || kinds[1] != radio.EventSignalStrengthsChanged {
		t.Fatalf("first poll events = %v", kinds)
	}
	if events[0].NetworkType != pkg.NetworkTypeLTE || events[1].Signal.GSMAsu != 20 || events[1].Signal.PhoneType != pkg.PhoneTypeGSM {
		t.Errorf("unexpected events %+v", events)
	}

	kinds = eventKinds(m.Poll(ctx))
	if len(kinds) != 1 || kinds[0] != radio.EventSignalStrengthsChanged {
		t.Errorf("unchanged network should only report signal, got %v", kinds)
	}

	exec.set(cmdSignal, "+CSQ: 99,99\r\nOK\r\n")
	kinds = eventKinds(m.Poll(ctx))
	if len(kinds) != 1 || kinds[0] != radio.EventRefresh {
		t.Errorf("expected a refresh without news, got %v", kinds)
	}

	exec.set(cmdServingCell, wcdmaServing)
	events = m.Poll(ctx)
	if len(events) != 1 || events[0].Kind != radio.EventDataConnectionStateChanged || events[0].NetworkType != pkg.NetworkTypeUMTS {
		t.Errorf("expected a data connection change to UMTS, got %+v", events)
	}

	exec.set(cmdAttached, "+CGATT: 0\r\nOK\r\n")
	kinds = eventKinds(m.Poll(ctx))
	if len(kinds) != 1 || kinds[0] != radio.EventDataConnectionStateChanged {
		t.Errorf("detach should be a data connection change, got %v", kinds)
	}
}

func TestDrivesEngine(t *testing.T) {
	m := newTestModem(newFakeExecutor())
	engine := radio.NewEngine(radio.DefaultConfig(), m, m, logx.Nop())
	defer engine.Close()
	ctx := context.Background()

	for _, ev := range m.Poll(ctx) {
		engine.Handle(ctx, ev)
	}

	snap := engine.Snapshot()
	if snap.Generation != 4 {
		t.Fatalf("generation = %d; want 4", snap.Generation)
	}
	if snap.Serving == nil || snap.Serving.Family() != cell.FamilyLTE {
		t.Fatalf("unexpected serving %+v", snap.Serving)
	}
	if id := snap.Serving.LTE(); id.MCC != 240 || id.MNC != 1 || id.TAC != 0x17 || id.CI != 0x18BCF1F || id.PCI != 443 {
		t.Errorf("unexpected serving identity %+v", id)
	}
	if snap.Serving.Dbm() != -84 {
		t.Errorf("serving dbm = %d; want RSRP -84", snap.Serving.Dbm())
	}
	if len(snap.LTE) != 3 {
		t.Errorf("LTE register = %d towers; want serving and two PCI-only neighbours", len(snap.LTE))
	}
	if len(snap.GSM) != 2 {
		t.Errorf("GSM register = %d towers; want the two legacy neighbours", len(snap.GSM))
	}
}
