// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package psu drives Aim-TTI PL-P series bench power supplies.
//
// Setpoints are clamped to software limits before they reach the wire, and
// the supply is put into a safe state (trips armed, output off, setpoints
// zeroed) as soon as it is connected.
package psu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/ffutop/instrlink/instrument"
	"github.com/ffutop/instrlink/scpi"
)

// PL-P command vocabulary, output 1.
const (
	cmdVoltage         = "V1"
	cmdVoltageQuery    = "V1?"
	cmdVoltageOut      = "V1O?"
	cmdCurrent         = "I1"
	cmdCurrentQuery    = "I1?"
	cmdCurrentOut      = "I1O?"
	cmdOutput          = "OP1"
	cmdRange           = "IRANGE1"
	cmdRangeQuery      = "IRANGE1?"
	cmdOverVoltageTrip = "OVP1"
	cmdOverCurrentTrip = "OCP1"
)

// Setpoint replies are at least this long once the supply has settled,
// e.g. "V1 0.000". Length is measured without surrounding whitespace, so it
// does not depend on the framer's terminator.
const DefaultPollMinLength = 8

var (
	ErrInvalidRange = errors.New("psu: invalid current range")
	ErrInvalidValue = errors.New("psu: setpoint is not a finite number")

	errShortReply = errors.New("reply still incomplete after the poll budget")
)

// OutputState is the output enable flag as last commanded.
type OutputState int

const (
	Disabled OutputState = iota
	Enabled
)

func (s OutputState) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	default:
		return fmt.Sprintf("OutputState(%d)", int(s))
	}
}

func (s OutputState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Range is a current range. The zero value means no range has been
// commanded yet.
type Range int

const (
	RangeLow  Range = 1 // 500 mA
	RangeHigh Range = 2
)

// Valid reports whether r is a selectable range.
func (r Range) Valid() bool {
	return r == RangeLow || r == RangeHigh
}

func (r Range) String() string {
	switch r {
	case RangeLow:
		return "low"
	case RangeHigh:
		return "high"
	default:
		return fmt.Sprintf("Range(%d)", int(r))
	}
}

// Config holds the software limits and connect-time settings.
type Config struct {
	VoltageLimit  float64 // Software ceiling for the voltage setpoint
	CurrentLimit  float64 // Software ceiling for the current setpoint
	OVP           float64 // Hardware over voltage trip
	OCP           float64 // Hardware over current trip
	LowRangeLimit float64 // Current ceiling of RangeLow
	AutoRange     bool    // Switch to RangeHigh instead of clamping in RangeLow
	InitialRange  Range
	Poll          scpi.Poller // Setpoint read budget
}

// DefaultConfig returns the limits for a PL303-P on a 30 V, 1 A bench.
func DefaultConfig() Config {
	return Config{
		VoltageLimit:  30.0,
		CurrentLimit:  1.0,
		OVP:           30.0,
		OCP:           1.0,
		LowRangeLimit: 0.5,
		InitialRange:  RangeHigh,
		Poll: scpi.Poller{
			MinLength:   DefaultPollMinLength,
			MaxAttempts: scpi.DefaultPollAttempts,
		},
	}
}

func (c *Config) validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"voltage limit", c.VoltageLimit},
		{"current limit", c.CurrentLimit},
		{"ovp", c.OVP},
		{"ocp", c.OCP},
		{"low range limit", c.LowRangeLimit},
	} {
		if !finite(v.value) || v.value <= 0 {
			return fmt.Errorf("psu: %s must be positive, got %v", v.name, v.value)
		}
	}
	if !c.InitialRange.Valid() {
		return fmt.Errorf("%w: initial range %d", ErrInvalidRange, c.InitialRange)
	}
	if c.Poll.MinLength <= 0 {
		c.Poll.MinLength = DefaultPollMinLength
	}
	if c.Poll.MaxAttempts <= 0 {
		c.Poll.MaxAttempts = scpi.DefaultPollAttempts
	}
	return nil
}

// Limits are the configured ceilings.
type Limits struct {
	Voltage  float64 `json:"voltage"`
	Current  float64 `json:"current"`
	OVP      float64 `json:"ovp"`
	OCP      float64 `json:"ocp"`
	LowRange float64 `json:"low_range"`
}

// Status is a snapshot of the supply taken in one exchange.
type Status struct {
	Output          OutputState `json:"output"`
	Range           Range       `json:"range"`
	VoltageSetpoint float64     `json:"voltage_setpoint"`
	CurrentSetpoint float64     `json:"current_setpoint"`
	Voltage         float64     `json:"voltage"`
	Current         float64     `json:"current"`
}

// PowerSupply is a PL-P on one instrument link.
//
// Its mutex is always taken before the link lock. While the output is
// enabled the setpoints are served from the cache without touching the wire.
type PowerSupply struct {
	inst *instrument.Instrument
	f    *scpi.Framer
	cfg  Config

	mu     sync.Mutex
	output OutputState
	irange Range
	vset   float64
	iset   float64
}

// New takes control of the supply and puts it into the safe state: trips
// armed, status cleared, output off, initial range selected and both
// setpoints at zero.
func New(ctx context.Context, inst *instrument.Instrument, cfg Config) (*PowerSupply, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.VoltageLimit > cfg.OVP {
		slog.Warn("voltage limit is above the over voltage trip", "limit", cfg.VoltageLimit, "ovp", cfg.OVP)
	}
	if cfg.CurrentLimit > cfg.OCP {
		slog.Warn("current limit is above the over current trip", "limit", cfg.CurrentLimit, "ocp", cfg.OCP)
	}

	p := &PowerSupply{inst: inst, f: inst.Framer(), cfg: cfg}

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.f.Exclusive(ctx, func(s scpi.Session) error {
		if err := s.Write(ctx, cmdOverCurrentTrip+" "+scpi.FormatFloat(cfg.OCP)); err != nil {
			return err
		}
		if err := s.Write(ctx, cmdOverVoltageTrip+" "+scpi.FormatFloat(cfg.OVP)); err != nil {
			return err
		}
		if err := s.Write(ctx, scpi.CmdClearStatus); err != nil {
			return err
		}
		if err := p.setOutput(ctx, s, Disabled); err != nil {
			return err
		}
		if err := p.setRange(ctx, s, cfg.InitialRange); err != nil {
			return err
		}
		if err := p.writeCurrent(ctx, s, 0); err != nil {
			return err
		}
		return p.writeVoltage(ctx, s, 0)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("power supply in safe state", "addr", inst.Address(), "range", p.irange,
		"vlimit", cfg.VoltageLimit, "ilimit", cfg.CurrentLimit)
	return p, nil
}

// Instrument returns the underlying instrument.
func (p *PowerSupply) Instrument() *instrument.Instrument {
	return p.inst
}

// Limits returns the configured ceilings.
func (p *PowerSupply) Limits() Limits {
	return Limits{
		Voltage:  p.cfg.VoltageLimit,
		Current:  p.cfg.CurrentLimit,
		OVP:      p.cfg.OVP,
		OCP:      p.cfg.OCP,
		LowRange: p.cfg.LowRangeLimit,
	}
}

// Output returns the last commanded output state.
func (p *PowerSupply) Output() OutputState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// EnableOutput turns the output on.
func (p *PowerSupply) EnableOutput(ctx context.Context) error {
	return p.exclusive(ctx, func(s scpi.Session) error {
		return p.setOutput(ctx, s, Enabled)
	})
}

// DisableOutput turns the output off.
func (p *PowerSupply) DisableOutput(ctx context.Context) error {
	return p.exclusive(ctx, func(s scpi.Session) error {
		return p.setOutput(ctx, s, Disabled)
	})
}

// SetVoltage raises the current setpoint to the current limit, sets the
// voltage and enables the output. v is clamped to [0, voltage limit].
func (p *PowerSupply) SetVoltage(ctx context.Context, v float64) error {
	if !finite(v) {
		return fmt.Errorf("%w: voltage %v", ErrInvalidValue, v)
	}
	return p.exclusive(ctx, func(s scpi.Session) error {
		if err := p.writeCurrent(ctx, s, p.cfg.CurrentLimit); err != nil {
			return err
		}
		if err := p.writeVoltage(ctx, s, v); err != nil {
			return err
		}
		return p.setOutput(ctx, s, Enabled)
	})
}

// SetCurrent raises the voltage setpoint to the voltage limit, sets the
// current and enables the output. i is clamped to [0, current limit]; in
// the low range it is clamped further, or the range is switched up when
// AutoRange is set.
func (p *PowerSupply) SetCurrent(ctx context.Context, i float64) error {
	if !finite(i) {
		return fmt.Errorf("%w: current %v", ErrInvalidValue, i)
	}
	return p.exclusive(ctx, func(s scpi.Session) error {
		if err := p.writeVoltage(ctx, s, p.cfg.VoltageLimit); err != nil {
			return err
		}
		if err := p.writeCurrent(ctx, s, i); err != nil {
			return err
		}
		return p.setOutput(ctx, s, Enabled)
	})
}

// VoltageSetpoint returns the voltage setpoint.
func (p *PowerSupply) VoltageSetpoint(ctx context.Context) (v float64, err error) {
	err = p.exclusive(ctx, func(s scpi.Session) error {
		v, err = p.voltageSetpoint(ctx, s)
		return err
	})
	return
}

// CurrentSetpoint returns the current setpoint.
func (p *PowerSupply) CurrentSetpoint(ctx context.Context) (i float64, err error) {
	err = p.exclusive(ctx, func(s scpi.Session) error {
		i, err = p.currentSetpoint(ctx, s)
		return err
	})
	return
}

// MeasuredVoltage returns the output voltage. It is never cached.
func (p *PowerSupply) MeasuredVoltage(ctx context.Context) (float64, error) {
	return measure(ctx, p.f, cmdVoltageOut, "V")
}

// MeasuredCurrent returns the output current. It is never cached.
func (p *PowerSupply) MeasuredCurrent(ctx context.Context) (float64, error) {
	return measure(ctx, p.f, cmdCurrentOut, "A")
}

// SetCurrentRange selects a current range, turning the output off first if
// it is on. Selecting the current range again sends nothing.
func (p *PowerSupply) SetCurrentRange(ctx context.Context, r Range) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRange, r)
	}
	return p.exclusive(ctx, func(s scpi.Session) error {
		return p.setRange(ctx, s, r)
	})
}

// CurrentRange asks the supply for its current range.
func (p *PowerSupply) CurrentRange(ctx context.Context) (Range, error) {
	resp, err := p.f.Query(ctx, cmdRangeQuery)
	if err != nil {
		return 0, err
	}
	r, err := scpi.ParseInt(cmdRangeQuery, resp, "")
	if err != nil {
		return 0, err
	}
	return Range(r), nil
}

// Status reads setpoints and measurements in one exchange.
func (p *PowerSupply) Status(ctx context.Context) (st Status, err error) {
	err = p.exclusive(ctx, func(s scpi.Session) error {
		st.Output = p.output
		st.Range = p.irange
		if st.VoltageSetpoint, err = p.voltageSetpoint(ctx, s); err != nil {
			return err
		}
		if st.CurrentSetpoint, err = p.currentSetpoint(ctx, s); err != nil {
			return err
		}
		if st.Voltage, err = measure(ctx, s, cmdVoltageOut, "V"); err != nil {
			return err
		}
		st.Current, err = measure(ctx, s, cmdCurrentOut, "A")
		return err
	})
	return
}

// Close releases the link. The output is left as it is.
func (p *PowerSupply) Close() error {
	return p.inst.Close()
}

// exclusive runs fn holding the driver mutex and then the link lock.
func (p *PowerSupply) exclusive(ctx context.Context, fn func(s scpi.Session) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Exclusive(ctx, fn)
}

// The helpers below assume p.mu and the link lock are held.

func (p *PowerSupply) setOutput(ctx context.Context, c scpi.Commander, state OutputState) error {
	arg := "0"
	if state == Enabled {
		arg = "1"
	}
	if err := c.Write(ctx, cmdOutput+" "+arg); err != nil {
		return err
	}
	p.output = state
	return nil
}

func (p *PowerSupply) setRange(ctx context.Context, c scpi.Commander, r Range) error {
	if r == p.irange {
		return nil
	}
	if p.output == Enabled {
		if err := p.setOutput(ctx, c, Disabled); err != nil {
			return err
		}
	}
	if err := c.Write(ctx, fmt.Sprintf("%s %d", cmdRange, int(r))); err != nil {
		return err
	}
	p.irange = r
	return nil
}

func (p *PowerSupply) writeVoltage(ctx context.Context, c scpi.Commander, v float64) error {
	v = clamp("voltage", v, p.cfg.VoltageLimit)
	if err := c.Write(ctx, cmdVoltage+" "+scpi.FormatFloat(v)); err != nil {
		return err
	}
	p.vset = v
	return nil
}

func (p *PowerSupply) writeCurrent(ctx context.Context, c scpi.Commander, i float64) error {
	i = clamp("current", i, p.cfg.CurrentLimit)
	if p.irange == RangeLow && i > p.cfg.LowRangeLimit {
		if p.cfg.AutoRange {
			if err := p.setRange(ctx, c, RangeHigh); err != nil {
				return err
			}
		} else {
			slog.Warn("current setpoint clamped to low range", "requested", i, "limit", p.cfg.LowRangeLimit)
			i = p.cfg.LowRangeLimit
		}
	}
	if err := c.Write(ctx, cmdCurrent+" "+scpi.FormatFloat(i)); err != nil {
		return err
	}
	p.iset = i
	return nil
}

func (p *PowerSupply) voltageSetpoint(ctx context.Context, c scpi.Commander) (float64, error) {
	if p.output == Enabled {
		return p.vset, nil
	}
	v, err := p.readSetpoint(ctx, c, cmdVoltageQuery, cmdVoltage)
	if err != nil {
		return 0, err
	}
	p.vset = v
	return v, nil
}

func (p *PowerSupply) currentSetpoint(ctx context.Context, c scpi.Commander) (float64, error) {
	if p.output == Enabled {
		return p.iset, nil
	}
	i, err := p.readSetpoint(ctx, c, cmdCurrentQuery, cmdCurrent)
	if err != nil {
		return 0, err
	}
	p.iset = i
	return i, nil
}

// readSetpoint repeats query until the supply has settled and the reply is
// complete.
func (p *PowerSupply) readSetpoint(ctx context.Context, c scpi.Commander, query, echo string) (float64, error) {
	resp, err := p.cfg.Poll.Poll(ctx, func() (string, error) {
		resp, err := c.Query(ctx, query)
		return strings.TrimSpace(resp), err
	})
	if err != nil {
		return 0, err
	}
	if len(resp) < p.cfg.Poll.MinLength {
		return 0, &scpi.MalformedResponseError{Command: query, Response: resp, Err: errShortReply}
	}
	return scpi.ParseFloat(query, resp, echo, "")
}

func measure(ctx context.Context, c scpi.Commander, query, unit string) (float64, error) {
	resp, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return scpi.ParseFloat(query, resp, "", unit)
}

func clamp(name string, v, limit float64) float64 {
	switch {
	case v < 0:
		slog.Warn("setpoint clamped", "setpoint", name, "requested", v, "limit", 0.0)
		return 0
	case v > limit:
		slog.Warn("setpoint clamped", "setpoint", name, "requested", v, "limit", limit)
		return limit
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
