// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/internal/simulator"
	"github.com/ffutop/instrlink/internal/simulator/persistence"
	"github.com/ffutop/instrlink/transport"
)

// Address is the link address reported by simulated instruments.
const Address = "sim://PL303-P"

// instrument feeds complete command lines to the simulator and queues its
// replies for reading. Commands must end in "\n". Like a serial port, a read with nothing queued
// returns no bytes.
type instrument struct {
	sim     *simulator.Simulator
	storage persistence.Storage
	in      bytes.Buffer
	out     bytes.Buffer
}

// Open creates a simulated PL-P with the configured persistence.
func Open(ctx context.Context, cfg config.SimConfig) (*transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	storage := newStorage(cfg.Persistence)
	p, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load persistence data, starting with fresh panel", "err", err)
		if p == nil {
			slog.Warn("Falling back to MemoryStorage")
			storage = persistence.NewMemoryStorage()
			p, _ = storage.Load()
		}
	}

	s := simulator.New(p, storage, simulator.Options{
		Identity:    cfg.Identity,
		Load:        cfg.Load,
		SettleReads: cfg.SettleReads,
	})
	slog.Info("Simulated instrument ready", "addr", Address, "persistence", cfg.Persistence.Type)

	return transport.NewLink(Address, &instrument{sim: s, storage: storage}), nil
}

func newStorage(cfg config.PersistenceConfig) persistence.Storage {
	switch cfg.Type {
	case "file":
		slog.Info("Initializing simulator with file persistence", "path", cfg.Path)
		return persistence.NewFileStorage(cfg.Path)
	case "mmap":
		slog.Info("Initializing simulator with MMAP persistence", "path", cfg.Path)
		return persistence.NewMmapStorage(cfg.Path)
	case "sql":
		// Note: The main app must import the driver (e.g. _ "github.com/mattn/go-sqlite3")
		slog.Info("Initializing simulator with SQL persistence", "driver", "sqlite3", "dsn", cfg.Path)
		return persistence.NewSQLStorage("sqlite3", cfg.Path)
	default:
		slog.Info("Initializing simulator with memory storage (non-persistent)")
		return persistence.NewMemoryStorage()
	}
}

func (d *instrument) Write(p []byte) error {
	d.in.Write(p)
	for {
		line, err := d.in.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			d.in.Reset()
			d.in.WriteString(line)
			return nil
		}
		d.out.WriteString(d.sim.Process(line))
	}
}

func (d *instrument) Read(maxLen int) ([]byte, error) {
	n := d.out.Len()
	if n > maxLen {
		n = maxLen
	}
	return append([]byte(nil), d.out.Next(n)...), nil
}

func (d *instrument) Release() error {
	if closer, ok := d.storage.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
