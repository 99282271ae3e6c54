// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gpib

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/transport"
)

// Device is a GPIB instrument at one board/primary address pair.
type Device struct {
	*transport.Link

	dev *device
}

// device is the link backend. Reads end at END, so it is message framed.
type device struct {
	lib   Library
	board int
	pad   int
	ud    int
	pause time.Duration
}

// Open loads the configured library, opens the device and sends it a device
// clear.
func Open(ctx context.Context, cfg config.GPIBConfig) (*Device, error) {
	address := fmt.Sprintf("GPIB%d::%d", cfg.Board, cfg.Address)

	lib, err := Load(cfg.Library)
	if err != nil {
		return nil, &transport.ConnectionError{Address: address, Err: err}
	}

	ud, err := lib.Dev(cfg.Board, cfg.Address)
	if err != nil {
		return nil, &transport.ConnectionError{Address: address, Err: err}
	}
	d := &device{lib: lib, board: cfg.Board, pad: cfg.Address, ud: ud, pause: cfg.Pause}

	if err := d.sleep(ctx); err != nil {
		lib.Offline(ud)
		return nil, err
	}
	if err := lib.Clear(ud); err != nil {
		lib.Offline(ud)
		return nil, &transport.ConnectionError{Address: address, Err: err}
	}
	if err := d.sleep(ctx); err != nil {
		lib.Offline(ud)
		return nil, err
	}
	slog.Info("GPIB device opened", "addr", address, "library", cfg.Library, "ud", ud)

	return &Device{Link: transport.NewLink(address, d), dev: d}, nil
}

func (d *device) sleep(ctx context.Context) error {
	if d.pause <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.pause):
		return nil
	}
}

func (d *device) Write(p []byte) error {
	if err := d.lib.Write(d.ud, p); err != nil {
		return err
	}
	if d.pause > 0 {
		time.Sleep(d.pause)
	}
	return d.lib.InterfaceClear(d.board)
}

func (d *device) Read(maxLen int) ([]byte, error) {
	data, err := d.lib.Read(d.ud, maxLen)
	if err != nil {
		return nil, err
	}
	return data, d.lib.InterfaceClear(d.board)
}

func (d *device) Release() error {
	return d.lib.Offline(d.ud)
}

func (d *device) MessageFramed() bool {
	return true
}

// Clear sends the selected device clear message.
func (d *Device) Clear(ctx context.Context) error {
	return d.Exclusive(ctx, func(transport.Conn) error {
		if err := d.dev.lib.Clear(d.dev.ud); err != nil {
			return &transport.TransportError{Op: "clear", Address: d.Address(), Err: err}
		}
		return nil
	})
}

// StatusByte serial polls the device. It returns transport.NoStatusByte when
// the device supplied none.
func (d *Device) StatusByte(ctx context.Context) (int, error) {
	stb := transport.NoStatusByte
	err := d.Exclusive(ctx, func(transport.Conn) error {
		spr, err := d.dev.lib.SerialPoll(d.dev.ud)
		if err != nil {
			slog.Debug("serial poll returned no status byte", "addr", d.Address(), "err", err)
			return nil
		}
		stb = int(spr)
		return nil
	})
	return stb, err
}
