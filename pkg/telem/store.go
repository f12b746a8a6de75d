// Package telem provides short-term cycle history and event logging
package telem

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/radio"
)

// Sample summarizes one completed reconciliation cycle
type Sample struct {
	Timestamp     time.Time      `json:"timestamp"`
	Serving       string         `json:"serving,omitempty"`
	ServingFamily string         `json:"serving_family,omitempty"`
	ServingDbm    int            `json:"serving_dbm"`
	HasServingDbm bool           `json:"has_serving_dbm"`
	Generation    int            `json:"generation"`
	Cells         map[string]int `json:"cells"`
}

// Event represents a system event (source failures, generation changes, etc.)
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
}

// Store keeps a bounded in-memory history of samples and events
type Store struct {
	mu            sync.RWMutex
	samples       []Sample
	events        []Event
	maxSamples    int
	maxEvents     int
	retentionTime time.Duration
	now           func() time.Time
}

// Config for telemetry store
type Config struct {
	MaxSamples     int `uci:"history_size"`
	MaxEvents      int `uci:"max_events"`
	RetentionHours int `uci:"retention_hours"`
}

// NewStore creates a new telemetry store with the given configuration
func NewStore(config Config) *Store {
	if config.MaxSamples <= 0 {
		config.MaxSamples = 500
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 500
	}
	if config.RetentionHours <= 0 {
		config.RetentionHours = 24
	}

	return &Store{
		samples:       make([]Sample, 0, config.MaxSamples),
		events:        make([]Event, 0, config.MaxEvents),
		maxSamples:    config.MaxSamples,
		maxEvents:     config.MaxEvents,
		retentionTime: time.Duration(config.RetentionHours) * time.Hour,
		now:           time.Now,
	}
}

// SampleFromSnapshot summarizes a cycle snapshot
func SampleFromSnapshot(snap radio.Snapshot) Sample {
	sample := Sample{
		Timestamp:  snap.Time,
		ServingDbm: cell.DBMUnknown,
		Generation: snap.Generation,
		Cells:      make(map[string]int, len(cell.Families)),
	}
	for _, f := range cell.Families {
		sample.Cells[f.String()] = len(snap.Cells(f))
	}
	if s := snap.Serving; s != nil {
		sample.Serving = s.Label()
		sample.ServingFamily = s.Family().String()
		sample.ServingDbm = s.Dbm()
		sample.HasServingDbm = s.HasDbm()
	}
	return sample
}

// OnCycle records a sample for every completed cycle
func (s *Store) OnCycle(snap radio.Snapshot) {
	s.AddSample(SampleFromSnapshot(snap))
}

// OnDiagnostic records engine diagnostics as events
func (s *Store) OnDiagnostic(d radio.Diagnostic) {
	level := "info"
	if d.IsSourceError() || d.Kind == radio.KindSignalMismatch || d.Kind == radio.KindPollExhausted {
		level = "warn"
	}
	if d.Kind == radio.KindUnsupported {
		level = "debug"
	}
	s.AddEvent(Event{
		Timestamp: d.Time,
		Level:     level,
		Type:      d.Kind,
		Source:    d.Source,
		Message:   d.Message,
	})
}

// AddSample stores a new cycle sample
func (s *Store) AddSample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)

	// Keep the most recent samples
	if len(s.samples) > s.maxSamples {
		copy(s.samples, s.samples[len(s.samples)-s.maxSamples:])
		s.samples = s.samples[:s.maxSamples]
	}

	s.samples = dropBefore(s.samples, s.now().Add(-s.retentionTime), func(v Sample) time.Time { return v.Timestamp })
}

// AddEvent stores a new system event
func (s *Store) AddEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	// Keep the most recent events
	if len(s.events) > s.maxEvents {
		copy(s.events, s.events[len(s.events)-s.maxEvents:])
		s.events = s.events[:s.maxEvents]
	}
}

// Samples returns the most recent samples, oldest first. A limit <= 0
// returns all of them.
func (s *Store) Samples(limit int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.samples, limit)
}

// RecentSamples returns samples within a time window
func (s *Store) RecentSamples(since time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-since)
	var result []Sample
	for _, sample := range s.samples {
		if sample.Timestamp.After(cutoff) {
			result = append(result, sample)
		}
	}
	return result
}

// Events returns recent events
func (s *Store) Events(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.events, limit)
}

// Cleanup removes old data based on retention policy
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retentionTime)
	s.samples = dropBefore(s.samples, cutoff, func(v Sample) time.Time { return v.Timestamp })
	s.events = dropBefore(s.events, cutoff, func(v Event) time.Time { return v.Timestamp })
}

// Stats returns storage statistics
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() map[string]interface{} {
	return map[string]interface{}{
		"total_samples":   len(s.samples),
		"total_events":    len(s.events),
		"max_samples":     s.maxSamples,
		"max_events":      s.maxEvents,
		"retention_hours": s.retentionTime.Hours(),
	}
}

// ExportJSON exports all data as JSON for debugging/analysis
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	export := struct {
		Timestamp time.Time              `json:"timestamp"`
		Samples   []Sample               `json:"samples"`
		Events    []Event                `json:"events"`
		Stats     map[string]interface{} `json:"stats"`
	}{
		Timestamp: s.now(),
		Samples:   s.samples,
		Events:    s.events,
		Stats:     s.statsLocked(),
	}

	return json.Marshal(export)
}

func lastN[T any](in []T, limit int) []T {
	if limit <= 0 || limit >= len(in) {
		limit = len(in)
	}
	result := make([]T, limit)
	copy(result, in[len(in)-limit:])
	return result
}

// dropBefore removes the leading items stamped at or before cutoff. Items
// are appended in time order so only the head needs checking.
func dropBefore[T any](in []T, cutoff time.Time, stamp func(T) time.Time) []T {
	keep := 0
	for keep < len(in) && !stamp(in[keep]).After(cutoff) {
		keep++
	}
	if keep == 0 {
		return in
	}
	n := copy(in, in[keep:])
	return in[:n]
}
