// Package geo estimates the device position from the reconciled towers
// through the Google Geolocation API.
package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
)

var (
	// ErrNoServingCell is returned when the last cycle has no locatable serving cell
	ErrNoServingCell = errors.New("no locatable serving cell")
)

// Geolocator is the geolocation client; *maps.Client implements it
type Geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// NewClient creates a Google Maps client for apiKey
func NewClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return client, nil
}

// Config controls lookups
type Config struct {
	// CacheTTL is how long a position is reused for the same serving cell
	CacheTTL time.Duration
	// MaxCells bounds the towers sent per request, serving cell included
	MaxCells int
	// RequestsPerSecond limits calls to the API
	RequestsPerSecond float64
}

// DefaultConfig returns the lookup defaults
func DefaultConfig() Config {
	return Config{
		CacheTTL:          30 * time.Minute,
		MaxCells:          7,
		RequestsPerSecond: 10,
	}
}

// Location is a position estimate for one serving cell
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Serving   string    `json:"serving"`
	RadioType string    `json:"radio_type"`
	Cells     int       `json:"cells"`
	Time      time.Time `json:"time"`
	Cached    bool      `json:"cached"`
}

// Locator resolves the serving cell of the latest snapshot to a position.
// Results are cached per serving cell.
type Locator struct {
	client  Geolocator
	config  Config
	limiter *rate.Limiter
	logger  *logx.Logger
	now     func() time.Time

	mu    sync.Mutex
	snap  radio.Snapshot
	cache map[string]Location
}

// New creates a locator using client
func New(config Config, client Geolocator, logger *logx.Logger) *Locator {
	defaults := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.MaxCells <= 0 {
		config.MaxCells = defaults.MaxCells
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &Locator{
		client:  client,
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "geo"),
		now:     time.Now,
		cache:   make(map[string]Location),
	}
}

// OnCycle remembers the snapshot the next lookup is built from
func (l *Locator) OnCycle(snap radio.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = snap
}

// Locate returns the position of the current serving cell, from the cache
// when a fresh entry exists.
func (l *Locator) Locate(ctx context.Context) (Location, error) {
	l.mu.Lock()
	snap := l.snap
	l.mu.Unlock()

	req, err := BuildRequest(snap, l.config.MaxCells)
	if err != nil {
		return Location{}, err
	}
	key := snap.Serving.Text()

	l.mu.Lock()
	loc, ok := l.cache[key]
	l.mu.Unlock()
	if ok && l.now().Sub(loc.Time) < l.config.CacheTTL {
		loc.Cached = true
		return loc, nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return Location{}, err
	}
	resp, err := l.client.Geolocate(ctx, req)
	if err != nil {
		l.logger.Warn("Geolocation request failed", "serving", key, "error", err)
		return Location{}, fmt.Errorf("geolocation failed: %w", err)
	}

	loc = Location{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Serving:   key,
		RadioType: string(req.RadioType),
		Cells:     len(req.CellTowers),
		Time:      l.now(),
	}
	l.logger.Info("Located serving cell", "serving", key, "accuracy", loc.Accuracy, "cells", loc.Cells)

	l.mu.Lock()
	l.expireLocked()
	l.cache[key] = loc
	l.mu.Unlock()
	return loc, nil
}

// CacheSize returns the number of cached positions
func (l *Locator) CacheSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}

func (l *Locator) expireLocked() {
	now := l.now()
	for key, loc := range l.cache {
		if now.Sub(loc.Time) >= l.config.CacheTTL {
			delete(l.cache, key)
		}
	}
}

// BuildRequest converts a snapshot into a geolocation request. The serving
// cell comes first, followed by neighbors of the same family that carry a
// full identity. CDMA cells have no country code and cannot be located.
func BuildRequest(snap radio.Snapshot, maxCells int) (*maps.GeolocationRequest, error) {
	serving := snap.Serving
	if serving == nil {
		return nil, ErrNoServingCell
	}
	servingTower, ok := cellTower(serving)
	if !ok {
		return nil, ErrNoServingCell
	}

	req := &maps.GeolocationRequest{
		RadioType:  radioType(serving),
		CellTowers: []maps.CellTower{servingTower},
		ConsiderIP: false,
	}

	towers := snap.Cells(serving.Family())
	for i := range towers {
		if maxCells > 0 && len(req.CellTowers) >= maxCells {
			break
		}
		t := &towers[i]
		if t.Key() == serving.Key() {
			continue
		}
		if ct, ok := cellTower(t); ok {
			req.CellTowers = append(req.CellTowers, ct)
		}
	}
	return req, nil
}

func radioType(t *cell.Tower) maps.RadioType {
	switch {
	case t.Family() == cell.FamilyLTE:
		return maps.RadioTypeLTE
	case t.Generation() == 3:
		return maps.RadioTypeWCDMA
	default:
		return maps.RadioTypeGSM
	}
}

// cellTower returns the API form of t if its identity is complete
func cellTower(t *cell.Tower) (maps.CellTower, bool) {
	var ct maps.CellTower
	switch t.Family() {
	case cell.FamilyGSM:
		id := t.GSM()
		ct = maps.CellTower{MobileCountryCode: id.MCC, MobileNetworkCode: id.MNC, LocationAreaCode: id.LAC, CellID: id.CID}
	case cell.FamilyLTE:
		id := t.LTE()
		ct = maps.CellTower{MobileCountryCode: id.MCC, MobileNetworkCode: id.MNC, LocationAreaCode: id.TAC, CellID: id.CI}
	default:
		return maps.CellTower{}, false
	}
	if ct.MobileCountryCode == cell.Unknown || ct.MobileNetworkCode == cell.Unknown ||
		ct.LocationAreaCode == cell.Unknown || ct.CellID == cell.Unknown {
		return maps.CellTower{}, false
	}
	if t.HasDbm() {
		ct.SignalStrength = t.Dbm()
	}
	return ct, true
}
