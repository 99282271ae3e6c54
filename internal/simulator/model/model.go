// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Front panel limits of a PL303-P.
const (
	MaxVoltage  = 30.0
	MaxCurrent  = 3.0
	MaxLowRange = 0.5
	MaxOVP      = 32.0
	MaxOCP      = 3.3
)

const (
	RangeLow  = 1
	RangeHigh = 2
)

// Field identifies one value of the panel state.
type Field int

const (
	FieldVoltage Field = iota // Voltage setpoint
	FieldCurrent              // Current setpoint
	FieldOVP                  // Over voltage trip
	FieldOCP                  // Over current trip
	FieldOutput               // 0 off, 1 on
	FieldRange                // RangeLow or RangeHigh
	FieldESR                  // Standard event status register
)

// Fields lists every field in layout order.
var Fields = []Field{FieldVoltage, FieldCurrent, FieldOVP, FieldOCP, FieldOutput, FieldRange, FieldESR}

// Layout:
// - Voltage, Current, OVP, OCP: float64 little endian (Offset 0, 8, 16, 24)
// - Output, Range, ESR: 1 byte each (Offset 32, 33, 34)
// Total Size: 40 bytes
const Size = 40

var offsets = [...]int{0, 8, 16, 24, 32, 33, 34}

var names = [...]string{"voltage", "current", "ovp", "ocp", "output", "range", "esr"}

func (f Field) String() string {
	if f < 0 || int(f) >= len(names) {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return names[f]
}

// IsFloat reports whether f holds a float64.
func (f Field) IsFloat() bool {
	return f <= FieldOCP
}

// Panel holds the simulated supply state in a flat byte layout, so that a
// persistence backend can hand in a file or memory mapping directly.
type Panel struct {
	mu   sync.RWMutex
	data []byte
}

// NewPanel creates a panel at power-on defaults.
func NewPanel() *Panel {
	p := &Panel{data: make([]byte, Size)}
	p.Reset()
	return p
}

// FromBytes creates a panel backed by data, which must hold at least Size
// bytes. Writes to the panel go straight to data.
func FromBytes(data []byte) (*Panel, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("panel data too short: %d < %d", len(data), Size)
	}
	return &Panel{data: data[:Size]}, nil
}

// Valid reports whether the panel holds a plausible state. A freshly
// created backing file is all zeros and has no valid range.
func (p *Panel) Valid() bool {
	r := p.Byte(FieldRange)
	return r == RangeLow || r == RangeHigh
}

// Reset restores power-on defaults.
func (p *Panel) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFloat(FieldVoltage, 1.0)
	p.setFloat(FieldCurrent, 0.1)
	p.setFloat(FieldOVP, MaxOVP)
	p.setFloat(FieldOCP, MaxOCP)
	p.data[offsets[FieldOutput]] = 0
	p.data[offsets[FieldRange]] = RangeHigh
	p.data[offsets[FieldESR]] = 0
}

// Float returns a float field.
func (p *Panel) Float(f Field) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.float(f)
}

// SetFloat stores a float field.
func (p *Panel) SetFloat(f Field, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFloat(f, v)
}

// Byte returns a byte field.
func (p *Panel) Byte(f Field) byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data[offsets[f]]
}

// SetByte stores a byte field.
func (p *Panel) SetByte(f Field, b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[offsets[f]] = b
}

// OrByte sets bits in a byte field.
func (p *Panel) OrByte(f Field, bits byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[offsets[f]] |= bits
}

// SwapByte stores b and returns the previous value.
func (p *Panel) SwapByte(f Field, b byte) byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.data[offsets[f]]
	p.data[offsets[f]] = b
	return old
}

// Value returns any field as a float64.
func (p *Panel) Value(f Field) float64 {
	if f.IsFloat() {
		return p.Float(f)
	}
	return float64(p.Byte(f))
}

// SetValue stores any field from a float64.
func (p *Panel) SetValue(f Field, v float64) {
	if f.IsFloat() {
		p.SetFloat(f, v)
		return
	}
	p.SetByte(f, byte(v))
}

func (p *Panel) float(f Field) float64 {
	off := offsets[f]
	return math.Float64frombits(binary.LittleEndian.Uint64(p.data[off : off+8]))
}

func (p *Panel) setFloat(f Field, v float64) {
	off := offsets[f]
	binary.LittleEndian.PutUint64(p.data[off:off+8], math.Float64bits(v))
}
