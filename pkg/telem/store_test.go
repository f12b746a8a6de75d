package telem

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/radio"
)

func newTestStore(config Config, now time.Time) *Store {
	store := NewStore(config)
	store.now = func() time.Time { return now }
	return store
}

func servingSample(ts time.Time, serving string, dbm int) Sample {
	return Sample{Timestamp: ts, Serving: serving, ServingDbm: dbm, HasServingDbm: true, Generation: 4}
}

func TestNewStoreDefaults(t *testing.T) {
	store := NewStore(Config{})
	stats := store.Stats()
	if stats["max_samples"] != 500 || stats["max_events"] != 500 || stats["retention_hours"] != float64(24) {
		t.Errorf("unexpected defaults %v", stats)
	}
}

func TestOnCycleRecordsSample(t *testing.T) {
	now := time.Now()
	store := newTestStore(Config{}, now)

	serving := cell.NewLTE(262, 1, 100, 5000, 10)
	serving.AddSource(cell.SourceCellLocation)
	serving.SetDbm(-97)
	neighbor := cell.NewGSM(262, 1, 1, 2, cell.Unknown)
	neighbor.AddSource(cell.SourceNeighborList)

	store.OnCycle(radio.Snapshot{
		Time:       now,
		GSM:        []cell.Tower{*neighbor},
		LTE:        []cell.Tower{*serving},
		Serving:    serving,
		Generation: 4,
	})

	samples := store.Samples(0)
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	got := samples[0]
	if got.Serving != "lte:262-1-100-5000" || got.ServingFamily != "lte" || got.ServingDbm != -97 || !got.HasServingDbm {
		t.Errorf("unexpected serving fields %+v", got)
	}
	if got.Cells["gsm"] != 1 || got.Cells["lte"] != 1 || got.Cells["cdma"] != 0 {
		t.Errorf("unexpected counts %v", got.Cells)
	}
}

func TestOnCycleWithoutServing(t *testing.T) {
	store := newTestStore(Config{}, time.Now())
	store.OnCycle(radio.Snapshot{Time: time.Now()})

	got := store.Samples(1)[0]
	if got.Serving != "" || got.HasServingDbm || got.ServingDbm != cell.DBMUnknown {
		t.Errorf("unexpected sample %+v", got)
	}
}

func TestOnDiagnosticLevels(t *testing.T) {
	store := newTestStore(Config{}, time.Now())
	tests := []struct {
		kind  string
		level string
	}{
		{radio.KindPermissionDenied, "warn"},
		{radio.KindUnsupported, "debug"},
		{radio.KindGenerationChanged, "info"},
		{radio.KindPollExhausted, "warn"},
	}

	for _, tt := range tests {
		store.OnDiagnostic(radio.Diagnostic{Time: time.Now(), Source: radio.SourceCellInfo, Kind: tt.kind, Message: "m"})
	}
	events := store.Events(0)
	if len(events) != len(tests) {
		t.Fatalf("expected %d events, got %d", len(tests), len(events))
	}
	for i, tt := range tests {
		if events[i].Level != tt.level || events[i].Type != tt.kind {
			t.Errorf("event %d = %+v; want level %s", i, events[i], tt.level)
		}
	}
}

func TestStoreBounds(t *testing.T) {
	now := time.Now()
	store := newTestStore(Config{MaxSamples: 3, MaxEvents: 2}, now)

	for i := 0; i < 5; i++ {
		store.AddSample(servingSample(now.Add(time.Duration(i)*time.Second), "c", -90+i))
		store.AddEvent(Event{Timestamp: now, Type: "e", Message: string(rune('a' + i))})
	}

	samples := store.Samples(0)
	if len(samples) != 3 || samples[0].ServingDbm != -88 || samples[2].ServingDbm != -86 {
		t.Errorf("unexpected samples %+v", samples)
	}
	if got := store.Samples(1); len(got) != 1 || got[0].ServingDbm != -86 {
		t.Errorf("limit should return the newest sample, got %+v", got)
	}
	events := store.Events(0)
	if len(events) != 2 || events[0].Message != "d" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	store := newTestStore(Config{}, time.Now())
	store.AddEvent(Event{Message: "original"})

	events := store.Events(0)
	events[0].Message = "changed"
	if store.Events(0)[0].Message != "original" {
		t.Error("mutation of returned slice leaked into store")
	}
}

func TestStoreRetentionPolicy(t *testing.T) {
	now := time.Now()
	store := newTestStore(Config{RetentionHours: 1}, now)

	store.AddSample(servingSample(now.Add(-2*time.Hour), "c", -90))
	store.AddSample(servingSample(now.Add(-time.Minute), "c", -91))
	store.AddEvent(Event{Timestamp: now.Add(-3 * time.Hour), Message: "old"})
	store.AddEvent(Event{Timestamp: now, Message: "new"})

	if len(store.Samples(0)) != 1 {
		t.Errorf("old sample should be dropped on insert, got %d", len(store.Samples(0)))
	}

	store.Cleanup()
	events := store.Events(0)
	if len(events) != 1 || events[0].Message != "new" {
		t.Errorf("unexpected events after cleanup %+v", events)
	}
	if got := store.RecentSamples(30 * time.Second); len(got) != 0 {
		t.Errorf("expected no samples in the last 30s, got %d", len(got))
	}
}

func TestExportJSON(t *testing.T) {
	store := newTestStore(Config{}, time.Now())
	store.AddSample(servingSample(time.Now(), "c", -80))

	data, err := store.ExportJSON()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := out["stats"]; !ok {
		t.Error("stats missing from export")
	}
}

func TestServingTrend(t *testing.T) {
	now := time.Now()
	store := newTestStore(Config{}, now)
	start := now.Add(-10 * time.Minute)

	// an earlier serving cell must not be mixed in
	store.AddSample(servingSample(start.Add(-time.Minute), "old", -50))
	for i := 0; i < 5; i++ {
		store.AddSample(servingSample(start.Add(time.Duration(i)*time.Minute), "lte:1-1-1-1", -100+2*i))
	}
	store.AddSample(Sample{Timestamp: start.Add(5 * time.Minute), Serving: "lte:1-1-1-1"})

	trend, err := store.ServingTrend(time.Hour)
	if err != nil {
		t.Fatalf("trend failed: %v", err)
	}
	if trend.Samples != 5 || trend.Serving != "lte:1-1-1-1" || trend.LatestDbm != -92 {
		t.Errorf("unexpected trend %+v", trend)
	}
	if math.Abs(trend.SlopePerMin-2) > 1e-6 {
		t.Errorf("slope = %f; want 2", trend.SlopePerMin)
	}
	if math.Abs(trend.Intercept-(-100)) > 1e-6 {
		t.Errorf("intercept = %f; want -100", trend.Intercept)
	}
}

func TestServingTrendInsufficientData(t *testing.T) {
	now := time.Now()
	store := newTestStore(Config{}, now)
	store.AddSample(servingSample(now.Add(-2*time.Minute), "a", -90))
	store.AddSample(servingSample(now.Add(-time.Minute), "a", -91))

	if _, err := store.ServingTrend(time.Hour); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}

	same := now.Add(-30 * time.Second)
	for i := 0; i < 3; i++ {
		store.AddSample(servingSample(same, "b", -80))
	}
	if _, err := store.ServingTrend(time.Hour); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for a zero time span, got %v", err)
	}
}
