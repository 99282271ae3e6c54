// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rs232

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/transport"
	"github.com/grid-x/serial"
)

// openPort is replaced in tests.
var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

// Open opens the serial port described by cfg. The returned link reads with
// the configured timeout: a read that times out yields no bytes and no error.
func Open(ctx context.Context, cfg config.SerialConfig) (*transport.Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sp := &serialPort{}
	sp.Config.Address = cfg.Device
	sp.Config.BaudRate = cfg.BaudRate
	sp.Config.DataBits = cfg.DataBits
	sp.Config.StopBits = cfg.StopBits
	sp.Config.Parity = cfg.Parity
	sp.Config.Timeout = cfg.Timeout
	if cfg.RS485 {
		sp.Config.RS485.Enabled = true
		sp.Config.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		sp.Config.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		sp.Config.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		sp.Config.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		sp.Config.RS485.RxDuringTx = cfg.RxDuringTx
	}

	port, err := openPort(&sp.Config)
	if err != nil {
		return nil, &transport.ConnectionError{Address: cfg.Device, Err: err}
	}
	sp.port = port
	slog.Info("serial port opened", "device", cfg.Device, "baudRate", cfg.BaudRate, "dataBits", cfg.DataBits, "parity", cfg.Parity, "stopBits", cfg.StopBits, "timeout", cfg.Timeout)

	return transport.NewLink(cfg.Device, sp), nil
}

func (sp *serialPort) Write(p []byte) error {
	_, err := sp.port.Write(p)
	return err
}

func (sp *serialPort) Read(maxLen int) ([]byte, error) {
	buf := make([]byte, maxLen)
	n, err := sp.port.Read(buf)
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) {
			return buf[:n], nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (sp *serialPort) Release() error {
	return sp.port.Close()
}
