package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/radio"
)

func scrape(t *testing.T, s *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestOnCycle(t *testing.T) {
	s := NewServer()

	serving := cell.NewGSM(310, 260, 5, 12345, cell.Unknown)
	serving.AddSource(cell.SourceCellLocation | cell.SourceCellInfo)
	serving.SetDbm(-71)
	neighbor := cell.NewGSM(310, 260, 5, 999, cell.Unknown)
	neighbor.AddSource(cell.SourceNeighborList)

	s.OnCycle(radio.Snapshot{
		Time:       time.Now(),
		GSM:        []cell.Tower{*serving, *neighbor},
		Serving:    serving,
		Generation: 3,
	})

	body := scrape(t, s)
	for _, want := range []string{
		`satstat_cells{family="gsm",source="location"} 1`,
		`satstat_cells{family="gsm",source="neighbor"} 1`,
		`satstat_cells{family="gsm",source="cellinfo"} 1`,
		`satstat_cells{family="lte",source="cellinfo"} 0`,
		`satstat_serving_dbm{family="gsm"} -71`,
		`satstat_network_generation 3`,
		`satstat_cycles_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in\n%s", want, body)
		}
	}
}

func TestServingDbmClearedWithoutReading(t *testing.T) {
	s := NewServer()
	serving := cell.NewCDMA(1, 2, 3)
	serving.AddSource(cell.SourceCellLocation)
	serving.SetDbm(-80)
	s.OnCycle(radio.Snapshot{Time: time.Now(), CDMA: []cell.Tower{*serving}, Serving: serving})

	s.OnCycle(radio.Snapshot{Time: time.Now()})
	body := scrape(t, s)
	if strings.Contains(body, "satstat_serving_dbm{") {
		t.Errorf("stale serving reading still exported:\n%s", body)
	}
	if !strings.Contains(body, "satstat_cycles_total 2") {
		t.Errorf("expected two cycles:\n%s", body)
	}
}

func TestOnDiagnosticCountsSourceErrors(t *testing.T) {
	s := NewServer()
	s.OnDiagnostic(radio.Diagnostic{Source: radio.SourceCellInfo, Kind: radio.KindPermissionDenied})
	s.OnDiagnostic(radio.Diagnostic{Source: radio.SourceCellInfo, Kind: radio.KindPermissionDenied})
	s.OnDiagnostic(radio.Diagnostic{Source: radio.SourceNetwork, Kind: radio.KindGenerationChanged})

	body := scrape(t, s)
	if !strings.Contains(body, `satstat_source_errors_total{kind="permission_denied",source="cellinfo"} 2`) {
		t.Errorf("missing source error counter:\n%s", body)
	}
	if strings.Contains(body, `source="network"`) {
		t.Error("generation changes are not source errors")
	}
}
