// Package metrics exposes reconciliation state as Prometheus metrics
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/radio"
)

var sourceLabels = []struct {
	name string
	flag cell.Source
}{
	{"location", cell.SourceCellLocation},
	{"neighbor", cell.SourceNeighborList},
	{"cellinfo", cell.SourceCellInfo},
}

// Server holds the satstat collectors on a private registry
type Server struct {
	registry *prometheus.Registry

	cells             *prometheus.GaugeVec
	servingDbm        *prometheus.GaugeVec
	networkGeneration prometheus.Gauge
	cycles            prometheus.Counter
	sourceErrors      *prometheus.CounterVec

	mu          sync.Mutex
	lastServing string
}

// NewServer creates and registers all collectors
func NewServer() *Server {
	s := &Server{registry: prometheus.NewRegistry()}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	s.cells = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "satstat_cells",
			Help: "Number of towers per family backed by each source",
		},
		[]string{"family", "source"},
	)

	s.servingDbm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "satstat_serving_dbm",
			Help: "Signal strength of the serving cell in dBm",
		},
		[]string{"family"},
	)

	s.networkGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "satstat_network_generation",
			Help: "Last observed network generation (2, 3, 4 or 0 if unknown)",
		},
	)

	s.cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satstat_cycles_total",
			Help: "Total number of completed reconciliation cycles",
		},
	)

	s.sourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satstat_source_errors_total",
			Help: "Total number of failed source queries",
		},
		[]string{"source", "kind"},
	)

	s.registry.MustRegister(
		s.cells,
		s.servingDbm,
		s.networkGeneration,
		s.cycles,
		s.sourceErrors,
	)
}

// Registry returns the registry holding the collectors
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// OnCycle updates the gauges from a cycle snapshot
func (s *Server) OnCycle(snap radio.Snapshot) {
	s.cycles.Inc()
	s.networkGeneration.Set(float64(snap.Generation))

	for _, f := range cell.Families {
		towers := snap.Cells(f)
		for _, src := range sourceLabels {
			n := 0
			for i := range towers {
				if towers[i].Source().Has(src.flag) {
					n++
				}
			}
			s.cells.With(prometheus.Labels{"family": f.String(), "source": src.name}).Set(float64(n))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a family without a serving cell has no reading to report
	if s.lastServing != "" {
		s.servingDbm.Delete(prometheus.Labels{"family": s.lastServing})
		s.lastServing = ""
	}
	if snap.Serving != nil && snap.Serving.HasDbm() {
		family := snap.Serving.Family().String()
		s.servingDbm.With(prometheus.Labels{"family": family}).Set(float64(snap.Serving.Dbm()))
		s.lastServing = family
	}
}

// OnDiagnostic counts failed source queries
func (s *Server) OnDiagnostic(d radio.Diagnostic) {
	if !d.IsSourceError() {
		return
	}
	s.RecordSourceError(d.Source, d.Kind)
}

// RecordSourceError records a failed source query
func (s *Server) RecordSourceError(source, kind string) {
	s.sourceErrors.With(prometheus.Labels{"source": source, "kind": kind}).Inc()
}
