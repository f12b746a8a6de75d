package telem

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sajari/regression"
)

// ErrInsufficientData is returned when a trend has too few usable samples
var ErrInsufficientData = errors.New("not enough serving cell readings")

const minTrendSamples = 3

// Trend is the least squares fit of the serving cell signal over time
type Trend struct {
	Serving     string        `json:"serving"`
	Samples     int           `json:"samples"`
	Window      time.Duration `json:"window"`
	SlopePerMin float64       `json:"slope_dbm_per_min"`
	Intercept   float64       `json:"intercept_dbm"`
	R2          float64       `json:"r2"`
	LatestDbm   int           `json:"latest_dbm"`
}

// ServingTrend fits the known readings of the current serving cell within
// window. Readings of earlier serving cells are not mixed in.
func (s *Store) ServingTrend(window time.Duration) (Trend, error) {
	samples := s.RecentSamples(window)

	var usable []Sample
	for i := len(samples) - 1; i >= 0; i-- {
		sample := samples[i]
		if !sample.HasServingDbm || sample.Serving == "" {
			continue
		}
		if len(usable) > 0 && sample.Serving != usable[0].Serving {
			break
		}
		usable = append(usable, sample)
	}
	if len(usable) < minTrendSamples {
		return Trend{}, ErrInsufficientData
	}

	latest := usable[0]
	start := usable[len(usable)-1].Timestamp
	if !latest.Timestamp.After(start) {
		return Trend{}, ErrInsufficientData
	}

	var r regression.Regression
	r.SetObserved("dbm")
	r.SetVar(0, "minutes")
	for _, sample := range usable {
		minutes := sample.Timestamp.Sub(start).Minutes()
		r.Train(regression.DataPoint(float64(sample.ServingDbm), []float64{minutes}))
	}
	if err := r.Run(); err != nil {
		return Trend{}, fmt.Errorf("failed to fit serving trend: %w", err)
	}

	slope := r.Coeff(1)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return Trend{}, ErrInsufficientData
	}

	r2 := r.R2
	if math.IsNaN(r2) {
		r2 = 0
	}

	return Trend{
		Serving:     latest.Serving,
		Samples:     len(usable),
		Window:      window,
		SlopePerMin: slope,
		Intercept:   r.Coeff(0),
		R2:          r2,
		LatestDbm:   latest.ServingDbm,
	}, nil
}
