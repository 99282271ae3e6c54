// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/ffutop/instrlink/internal/simulator/model"
	"github.com/ffutop/instrlink/internal/simulator/persistence"
	"github.com/ffutop/instrlink/scpi"
)

const DefaultIdentity = "THURLBY THANDAR, PL303-P, 0, 3.05-4.06"

// Simulator implements the PL-P command set on top of a Panel.
type Simulator struct {
	panel    *model.Panel
	storage  persistence.Storage
	identity string
	load     float64 // ohms, zero for open circuit

	mu          sync.Mutex
	settleReads int
	unsettled   int
}

// Options configure a Simulator.
type Options struct {
	Identity    string
	Load        float64
	SettleReads int // Setpoint queries answered truncated after each setpoint write
}

// New creates a Simulator. A panel without a valid state is reset first.
func New(p *model.Panel, storage persistence.Storage, opts Options) *Simulator {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	if !p.Valid() {
		p.Reset()
		if err := storage.Save(p); err != nil {
			slog.Error("Failed to save reset panel", "err", err)
		}
	}
	if opts.Identity == "" {
		opts.Identity = DefaultIdentity
	}
	return &Simulator{
		panel:       p,
		storage:     storage,
		identity:    opts.Identity,
		load:        opts.Load,
		settleReads: opts.SettleReads,
	}
}

// Panel returns the simulated state.
func (s *Simulator) Panel() *model.Panel {
	return s.panel
}

// Process executes one command line and returns the reply including its
// "\r\n" terminator, or "" for commands without a reply.
func (s *Simulator) Process(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	header, arg, _ := strings.Cut(line, " ")
	header = strings.ToUpper(header)
	arg = strings.TrimSpace(arg)

	switch header {
	case scpi.CmdIdentity:
		return s.reply(s.identity)
	case scpi.CmdClearStatus:
		s.set(model.FieldESR, 0)
	case scpi.CmdEventStatus:
		return s.reply(strconv.Itoa(int(s.panel.SwapByte(model.FieldESR, 0))))
	case scpi.CmdReset:
		s.panel.Reset()
		if err := s.storage.Save(s.panel); err != nil {
			slog.Error("Failed to save reset panel", "err", err)
		}
	case scpi.CmdOperationComplete:
		return s.reply("1")
	case "V1":
		s.setVoltage(arg)
	case "V1?":
		return s.setpoint(fmt.Sprintf("V1 %.3f", s.panel.Float(model.FieldVoltage)))
	case "I1":
		s.setCurrent(arg)
	case "I1?":
		return s.setpoint(fmt.Sprintf("I1 %.4f", s.panel.Float(model.FieldCurrent)))
	case "V1O?":
		v, _ := s.output()
		return s.reply(fmt.Sprintf("%.3fV", v))
	case "I1O?":
		_, i := s.output()
		return s.reply(fmt.Sprintf("%.4fA", i))
	case "OP1":
		s.setOutput(arg)
	case "OP1?":
		return s.reply(strconv.Itoa(int(s.panel.Byte(model.FieldOutput))))
	case "IRANGE1":
		s.setRange(arg)
	case "IRANGE1?":
		return s.reply(strconv.Itoa(int(s.panel.Byte(model.FieldRange))))
	case "OVP1":
		s.setTrip(model.FieldOVP, arg, model.MaxOVP)
	case "OVP1?":
		return s.reply(fmt.Sprintf("VP1 %.2f", s.panel.Float(model.FieldOVP)))
	case "OCP1":
		s.setTrip(model.FieldOCP, arg, model.MaxOCP)
	case "OCP1?":
		return s.reply(fmt.Sprintf("CP1 %.3f", s.panel.Float(model.FieldOCP)))
	default:
		slog.Debug("simulator: unknown command", "command", line)
		s.fail(scpi.ESRCommandError)
	}
	return ""
}

func (s *Simulator) reply(text string) string {
	return text + "\r\n"
}

// setpoint answers a setpoint query, cut short while the panel settles.
func (s *Simulator) setpoint(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsettled > 0 {
		s.unsettled--
		return text[:len(text)/2]
	}
	return s.reply(text)
}

func (s *Simulator) unsettle() {
	s.mu.Lock()
	s.unsettled = s.settleReads
	s.mu.Unlock()
}

func (s *Simulator) fail(bits byte) {
	s.panel.OrByte(model.FieldESR, bits)
	s.storage.OnWrite(model.FieldESR)
}

func (s *Simulator) set(f model.Field, v float64) {
	s.panel.SetValue(f, v)
	s.storage.OnWrite(f)
}

// number parses a numeric argument within [0, limit].
func (s *Simulator) number(arg string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > limit {
		s.fail(scpi.ESRExecutionError)
		return 0, false
	}
	return v, true
}

func (s *Simulator) setVoltage(arg string) {
	v, ok := s.number(arg, model.MaxVoltage)
	if !ok {
		return
	}
	s.set(model.FieldVoltage, v)
	s.unsettle()
	s.checkTrip()
}

func (s *Simulator) setCurrent(arg string) {
	limit := model.MaxCurrent
	if s.panel.Byte(model.FieldRange) == model.RangeLow {
		limit = model.MaxLowRange
	}
	i, ok := s.number(arg, limit)
	if !ok {
		return
	}
	s.set(model.FieldCurrent, i)
	s.unsettle()
}

func (s *Simulator) setOutput(arg string) {
	switch arg {
	case "0":
		s.set(model.FieldOutput, 0)
	case "1":
		s.set(model.FieldOutput, 1)
		s.checkTrip()
	default:
		s.fail(scpi.ESRExecutionError)
	}
}

// setRange refuses to switch ranges with the output on.
func (s *Simulator) setRange(arg string) {
	r, err := strconv.Atoi(arg)
	if err != nil || (r != model.RangeLow && r != model.RangeHigh) {
		s.fail(scpi.ESRExecutionError)
		return
	}
	if byte(r) == s.panel.Byte(model.FieldRange) {
		return
	}
	if s.panel.Byte(model.FieldOutput) != 0 {
		s.fail(scpi.ESRExecutionError)
		return
	}
	s.set(model.FieldRange, float64(r))
	if r == model.RangeLow && s.panel.Float(model.FieldCurrent) > model.MaxLowRange {
		s.set(model.FieldCurrent, model.MaxLowRange)
	}
}

func (s *Simulator) setTrip(f model.Field, arg string, limit float64) {
	v, ok := s.number(arg, limit)
	if !ok {
		return
	}
	s.set(f, v)
	s.checkTrip()
}

// checkTrip turns the output off when the setpoint exceeds the OVP level.
func (s *Simulator) checkTrip() {
	if s.panel.Byte(model.FieldOutput) == 0 {
		return
	}
	if s.panel.Float(model.FieldVoltage) > s.panel.Float(model.FieldOVP) {
		slog.Warn("simulator: over voltage trip",
			"voltage", s.panel.Float(model.FieldVoltage), "ovp", s.panel.Float(model.FieldOVP))
		s.set(model.FieldOutput, 0)
		s.fail(scpi.ESRDeviceError)
	}
}

// output returns the terminal voltage and current for a resistive load.
func (s *Simulator) output() (float64, float64) {
	if s.panel.Byte(model.FieldOutput) == 0 {
		return 0, 0
	}
	v := s.panel.Float(model.FieldVoltage)
	ilim := s.panel.Float(model.FieldCurrent)
	if s.load <= 0 {
		return v, 0
	}
	i := v / s.load
	if i > ilim {
		// Constant current: the voltage folds back.
		return ilim * s.load, ilim
	}
	return v, i
}
