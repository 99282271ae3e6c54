// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package simulator

import (
	"testing"

	"github.com/ffutop/instrlink/internal/simulator/model"
	"github.com/ffutop/instrlink/scpi"
)

func newSim(opts Options) *Simulator {
	return New(model.NewPanel(), nil, opts)
}

func TestProcess_Replies(t *testing.T) {
	s := newSim(Options{Load: 100})

	steps := []struct {
		cmd  string
		want string
	}{
		{"*IDN?", DefaultIdentity + "\r\n"},
		{"V1 12", ""},
		{"V1?", "V1 12.000\r\n"},
		{"I1 0.18", ""},
		{"i1?", "I1 0.1800\r\n"},
		{"V1O?", "0.000V\r\n"},
		{"OP1 1", ""},
		{"OP1?", "1\r\n"},
		{"V1O?", "12.000V\r\n"},
		{"I1O?", "0.1200A\r\n"},
		{"IRANGE1?", "2\r\n"},
		{"*ESR?", "0\r\n"},
	}
	for _, step := range steps {
		if got := s.Process(step.cmd); got != step.want {
			t.Errorf("Process(%q) = %q, want %q", step.cmd, got, step.want)
		}
	}
}

func TestProcess_ConstantCurrent(t *testing.T) {
	s := newSim(Options{Load: 10})
	s.Process("V1 12")
	s.Process("I1 0.5")
	s.Process("OP1 1")

	if got := s.Process("I1O?"); got != "0.5000A\r\n" {
		t.Errorf("I1O? = %q", got)
	}
	if got := s.Process("V1O?"); got != "5.000V\r\n" {
		t.Errorf("V1O? = %q", got)
	}
}

func TestProcess_StatusBits(t *testing.T) {
	tests := []struct {
		name string
		cmds []string
		want byte
	}{
		{"UnknownCommand", []string{"FOO 1"}, scpi.ESRCommandError},
		{"BadNumber", []string{"V1 abc"}, scpi.ESRExecutionError},
		{"AboveMax", []string{"V1 35"}, scpi.ESRExecutionError},
		{"LowRangeCurrent", []string{"IRANGE1 1", "I1 0.8"}, scpi.ESRExecutionError},
		{"RangeWithOutputOn", []string{"OP1 1", "IRANGE1 1"}, scpi.ESRExecutionError},
		{"Cleared", []string{"FOO", "*CLS"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSim(Options{})
			for _, c := range tt.cmds {
				s.Process(c)
			}
			if got := s.Panel().Byte(model.FieldESR); got != tt.want {
				t.Errorf("esr = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestProcess_ESRReadClears(t *testing.T) {
	s := newSim(Options{})
	s.Process("BAD")
	if got := s.Process("*ESR?"); got != "32\r\n" {
		t.Errorf("first *ESR? = %q", got)
	}
	if got := s.Process("*ESR?"); got != "0\r\n" {
		t.Errorf("second *ESR? = %q", got)
	}
}

func TestProcess_LowRangeClampsSetpoint(t *testing.T) {
	s := newSim(Options{})
	s.Process("I1 2")
	s.Process("IRANGE1 1")
	if got := s.Process("I1?"); got != "I1 0.5000\r\n" {
		t.Errorf("I1? = %q", got)
	}
}

func TestProcess_OverVoltageTrip(t *testing.T) {
	s := newSim(Options{})
	s.Process("OVP1 10")
	s.Process("V1 12")
	s.Process("OP1 1")
	if got := s.Process("OP1?"); got != "0\r\n" {
		t.Errorf("OP1? = %q, want tripped", got)
	}
	if esr := s.Panel().Byte(model.FieldESR); esr&scpi.ESRDeviceError == 0 {
		t.Errorf("esr = %#x, want device error", esr)
	}
}

func TestProcess_Settling(t *testing.T) {
	s := newSim(Options{SettleReads: 2})
	s.Process("V1 12")

	for i := 0; i < 2; i++ {
		if got := s.Process("V1?"); got != "V1 1" {
			t.Errorf("read %d = %q, want truncated", i, got)
		}
	}
	if got := s.Process("V1?"); got != "V1 12.000\r\n" {
		t.Errorf("settled read = %q", got)
	}
}

func TestProcess_Reset(t *testing.T) {
	s := newSim(Options{})
	s.Process("V1 20")
	s.Process("OP1 1")
	s.Process("*RST")
	if got := s.Process("OP1?"); got != "0\r\n" {
		t.Errorf("OP1? = %q", got)
	}
	if got := s.Process("V1?"); got != "V1 1.000\r\n" {
		t.Errorf("V1? = %q", got)
	}
}
