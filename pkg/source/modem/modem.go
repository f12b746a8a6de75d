// Package modem reads serving and neighbour cells from a Quectel modem
// through AT commands, either locally or on a router reached over SSH.
package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/satstat/satstat/pkg"
	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
	"github.com/satstat/satstat/pkg/retry"
)

// AT commands issued by the source
const (
	cmdServingCell   = `AT+QENG="servingcell"`
	cmdNeighbourCell = `AT+QENG="neighbourcell"`
	cmdSignal        = `AT+CSQ`
	cmdAttached      = `AT+CGATT?`
)

// Config controls how AT commands are sent
type Config struct {
	// Command prefix the AT command is appended to, quoted
	Command string
	// CacheTTL is how long a QENG response is reused within a cycle
	CacheTTL time.Duration
	Retry    retry.Config
}

// DefaultConfig returns the defaults for RutOS gsmctl
func DefaultConfig() Config {
	return Config{
		Command:  "gsmctl -A",
		CacheTTL: 500 * time.Millisecond,
		Retry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2.0,
		},
	}
}

type cached struct {
	output string
	at     time.Time
}

// Modem implements radio.Telephony and radio.Connectivity on top of an Executor
type Modem struct {
	exec   Executor
	runner *retry.Runner
	config Config
	logger *logx.Logger
	now    func() time.Time

	mu       sync.Mutex
	cache    map[string]cached
	serving  servingCell
	attached bool

	// state last announced by Poll
	reported         bool
	reportedType     int
	reportedAttached bool
}

// New creates a modem source
func New(config Config, exec Executor, logger *logx.Logger) *Modem {
	if config.Command == "" {
		config.Command = DefaultConfig().Command
	}
	return &Modem{
		exec:   exec,
		runner: retry.NewRunner(config.Retry),
		config: config,
		logger: logger.With("component", "modem"),
		now:    time.Now,
		cache:  make(map[string]cached),
	}
}

// at sends one AT command, reusing a response younger than CacheTTL when
// fresh is false.
func (m *Modem) at(ctx context.Context, command string, fresh bool) (string, error) {
	if !fresh && m.config.CacheTTL > 0 {
		m.mu.Lock()
		c, ok := m.cache[command]
		m.mu.Unlock()
		if ok && m.now().Sub(c.at) < m.config.CacheTTL {
			return c.output, nil
		}
	}

	full := fmt.Sprintf("%s '%s'", m.config.Command, command)
	var output string
	err := m.runner.Do(ctx, func(ctx context.Context) error {
		out, err := m.exec.Run(ctx, full)
		if err != nil {
			if errors.Is(err, radio.ErrPermissionDenied) || errors.Is(err, radio.ErrUnsupported) {
				return retry.Permanent(err)
			}
			return err
		}
		if err := responseError(command, out); err != nil {
			return retry.Permanent(err)
		}
		output = out
		return nil
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cache[command] = cached{output: output, at: m.now()}
	m.mu.Unlock()
	return output, nil
}

// responseError turns an ERROR final result into an error. CME error 4
// means the modem does not support the command.
func responseError(command, output string) error {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "+CME ERROR: 4" || strings.EqualFold(line, "+CME ERROR: operation not supported"):
			return fmt.Errorf("%s: %w", command, radio.ErrUnsupported)
		case line == "ERROR" || strings.HasPrefix(line, "+CME ERROR"):
			return fmt.Errorf("%s: %s", command, line)
		}
	}
	return nil
}

func (m *Modem) queryServing(ctx context.Context, fresh bool) (servingCell, error) {
	out, err := m.at(ctx, cmdServingCell, fresh)
	if err != nil {
		return servingCell{}, err
	}
	s, err := parseServingCell(out)
	if err != nil {
		return servingCell{}, err
	}
	m.mu.Lock()
	m.serving = s
	m.mu.Unlock()
	return s, nil
}

func (m *Modem) queryNeighbours(ctx context.Context) (neighbours, error) {
	out, err := m.at(ctx, cmdNeighbourCell, false)
	if err != nil {
		return neighbours{}, err
	}
	return parseNeighbours(out), nil
}

// CellLocation returns the serving cell, or no data while searching
func (m *Modem) CellLocation(ctx context.Context) (*cell.CellLocation, error) {
	s, err := m.queryServing(ctx, false)
	if err != nil {
		return nil, err
	}
	return s.location(), nil
}

// AllCellInfo returns the serving cell followed by the LTE neighbours
func (m *Modem) AllCellInfo(ctx context.Context) ([]cell.CellInfo, error) {
	s, err := m.queryServing(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []cell.CellInfo
	if ci, ok := s.cellInfo(); ok {
		out = append(out, ci)
	}

	n, err := m.queryNeighbours(ctx)
	if err != nil {
		m.logger.Debug("neighbour cells unavailable", "error", err)
		return out, nil
	}
	return append(out, n.LTE...), nil
}

// NeighboringCellInfo returns the GSM and WCDMA neighbours
func (m *Modem) NeighboringCellInfo(ctx context.Context) ([]cell.NeighboringCell, error) {
	n, err := m.queryNeighbours(ctx)
	if err != nil {
		return nil, err
	}
	return n.Legacy, nil
}

// NetworkOperator returns MCC and MNC of the last serving cell response
func (m *Modem) NetworkOperator() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serving.networkOperator()
}

// NetworkType returns the network type of the last serving cell response
func (m *Modem) NetworkType() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serving.networkType()
}

// PhoneType returns GSM once the modem has reported a radio technology
func (m *Modem) PhoneType() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serving.phoneType()
}

func (m *Modem) queryAttached(ctx context.Context, fresh bool) (bool, error) {
	out, err := m.at(ctx, cmdAttached, fresh)
	if err != nil {
		return false, err
	}
	attached, err := parseCGATT(out)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	m.attached = attached
	m.mu.Unlock()
	return attached, nil
}

// ActiveNetwork reports a mobile connection while attached to packet service
func (m *Modem) ActiveNetwork(ctx context.Context) (int, bool, error) {
	attached, err := m.queryAttached(ctx, false)
	if err != nil || !attached {
		return 0, false, err
	}
	return pkg.ConnectionTypeMobile, true, nil
}

// Poll queries the modem once and returns the events a cycle should handle:
// a data connection change on the first poll and whenever the network type
// or attach state moved since, and the current signal reading when the
// modem reports one.
func (m *Modem) Poll(ctx context.Context) []radio.Event {
	var events []radio.Event
	if s, err := m.queryServing(ctx, true); err != nil {
		m.logger.Debug("serving cell query failed", "error", err)
	} else {
		m.mu.Lock()
		attached := m.reportedAttached
		m.mu.Unlock()
		if a, err := m.queryAttached(ctx, true); err == nil {
			attached = a
		}

		networkType := s.networkType()
		m.mu.Lock()
		changed := !m.reported || networkType != m.reportedType || attached != m.reportedAttached
		m.reported, m.reportedType, m.reportedAttached = true, networkType, attached
		m.mu.Unlock()
		if changed {
			events = append(events, radio.Event{Kind: radio.EventDataConnectionStateChanged, NetworkType: networkType})
		}
	}

	if out, err := m.at(ctx, cmdSignal, true); err != nil {
		m.logger.Debug("signal query failed", "error", err)
	} else if asu, err := parseCSQ(out); err == nil && asu != pkg.UnknownRSSI {
		events = append(events, radio.Event{
			Kind:   radio.EventSignalStrengthsChanged,
			Signal: &cell.SignalStrength{PhoneType: pkg.PhoneTypeGSM, GSMAsu: asu},
		})
	}

	if len(events) == 0 {
		events = append(events, radio.Event{Kind: radio.EventRefresh})
	}
	return events
}
