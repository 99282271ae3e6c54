// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package instrument provides the IEEE 488.2 common commands shared by every
// instrument, independent of the link it is reached over.
package instrument

import (
	"context"

	"github.com/ffutop/instrlink/scpi"
	"github.com/ffutop/instrlink/transport"
)

// Clearer is implemented by links with a device clear, such as GPIB.
type Clearer interface {
	Clear(ctx context.Context) error
}

// StatusPoller is implemented by links with a serial poll, such as GPIB.
type StatusPoller interface {
	StatusByte(ctx context.Context) (int, error)
}

// Instrument is a generic instrument on one link.
type Instrument struct {
	f *scpi.Framer
}

// New creates an Instrument over f.
func New(f *scpi.Framer) *Instrument {
	return &Instrument{f: f}
}

// Framer returns the framer, for device drivers and compound exchanges.
func (i *Instrument) Framer() *scpi.Framer {
	return i.f
}

// Address returns the link address.
func (i *Instrument) Address() string {
	return i.f.Transport().Address()
}

// Identity returns the *IDN? response.
func (i *Instrument) Identity(ctx context.Context) (string, error) {
	return i.f.Query(ctx, scpi.CmdIdentity)
}

// StatusRegister reads and thereby clears the standard event status register.
func (i *Instrument) StatusRegister(ctx context.Context) (int, error) {
	resp, err := i.f.Query(ctx, scpi.CmdEventStatus)
	if err != nil {
		return 0, err
	}
	return scpi.ParseInt(scpi.CmdEventStatus, resp, "")
}

// ClearStatus sends *CLS.
func (i *Instrument) ClearStatus(ctx context.Context) error {
	return i.f.Write(ctx, scpi.CmdClearStatus)
}

// Reset sends *RST.
func (i *Instrument) Reset(ctx context.Context) error {
	return i.f.Write(ctx, scpi.CmdReset)
}

// Clear sends a device clear if the link supports one and is a no-op
// otherwise.
func (i *Instrument) Clear(ctx context.Context) error {
	if c, ok := i.f.Transport().(Clearer); ok {
		return c.Clear(ctx)
	}
	return nil
}

// StatusByte serial polls the device. Links without a serial poll report
// transport.NoStatusByte.
func (i *Instrument) StatusByte(ctx context.Context) (int, error) {
	if p, ok := i.f.Transport().(StatusPoller); ok {
		return p.StatusByte(ctx)
	}
	return transport.NoStatusByte, nil
}

// Close releases the link.
func (i *Instrument) Close() error {
	return i.f.Transport().Close()
}
