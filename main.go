// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ffutop/instrlink/instrument"
	"github.com/ffutop/instrlink/internal/api"
	"github.com/ffutop/instrlink/internal/bridge"
	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/psu"
	"github.com/ffutop/instrlink/scpi"
	"github.com/ffutop/instrlink/transport"
	"github.com/ffutop/instrlink/transport/gpib"
	"github.com/ffutop/instrlink/transport/rs232"
	"github.com/ffutop/instrlink/transport/sim"
	"github.com/ffutop/instrlink/transport/tcp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
	"golang.org/x/text/encoding/htmlindex"
)

// Set with -ldflags "-X main.buildVersion=... -X main.buildDate=..."
var (
	buildVersion = "dev"
	buildDate    = "unknown"
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "Configuration file path.")
	flags.StringP("transport.type", "t", "serial", "Instrument link (serial, gpib, tcp, sim).")
	flags.StringP("transport.serial.device", "p", "/dev/ttyUSB0", "Serial port device name.")
	flags.IntP("transport.serial.baud_rate", "s", 9600, "Serial port speed.")
	flags.DurationP("transport.serial.timeout", "W", 100*time.Millisecond, "Serial read and write timeout.")
	flags.IntP("transport.gpib.board", "b", 0, "GPIB board index.")
	flags.IntP("transport.gpib.address", "g", 0, "GPIB primary address.")
	flags.String("transport.tcp.address", "", "Instrument socket address, e.g. 192.168.1.100:9221.")
	flags.String("framer.terminator", `\n`, "Command terminator, escapes allowed.")
	flags.String("framer.encoding", "utf-8", "Character encoding on the wire.")
	flags.Float64("psu.voltage_limit", 30.0, "Software voltage limit.")
	flags.Float64("psu.current_limit", 1.0, "Software current limit.")
	flags.Bool("psu.auto_range", false, "Switch to the high current range instead of clamping.")
	flags.StringP("bridge.address", "B", "", "Link sharing bridge address, empty to disable.")
	flags.StringP("api.address", "H", "", "HTTP API address, empty to disable.")
	flags.StringP("log.level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	flags.StringP("log.file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	flags.Parse(os.Args[1:])

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting instrlink...", "version", buildVersion, "transport", cfg.Transport.Type)
	defer gpib.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := connect(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to power supply", "err", err)
		gpib.Shutdown()
		os.Exit(1)
	}
	defer p.Close()

	var wg sync.WaitGroup
	if cfg.Bridge.Address != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := bridge.NewServer(cfg.Bridge.Address)
			if err := s.Start(ctx, bridge.QueryHandler(p.Instrument().Framer(), p)); err != nil {
				slog.Error("Bridge stopped with error", "err", err)
			}
		}()
	}
	if cfg.API.Address != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			router := api.NewRouter(p, api.Version{Version: buildVersion, BuildDate: buildDate})
			if err := api.NewServer(cfg.API.Address, router).Start(ctx); err != nil {
				slog.Error("HTTP API stopped with error", "err", err)
			}
		}()
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()

	offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer offCancel()
	if err := p.DisableOutput(offCtx); err != nil {
		slog.Error("Failed to disable output", "err", err)
	}
	slog.Info("Goodbye.")
}

// connect opens the configured link and brings the supply into its safe state.
func connect(ctx context.Context, cfg *config.Config) (*psu.PowerSupply, error) {
	t, err := openTransport(ctx, cfg.Transport)
	if err != nil {
		return nil, err
	}

	enc, err := htmlindex.Get(cfg.Framer.Encoding)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("unknown encoding %q: %w", cfg.Framer.Encoding, err)
	}
	f := scpi.NewFramer(t,
		scpi.WithTerminator(cfg.Framer.Terminator),
		scpi.WithEncoding(enc),
		scpi.WithMaxRead(cfg.Framer.MaxRead),
	)
	inst := instrument.New(f)

	idn, err := inst.Identity(ctx)
	if err != nil {
		inst.Close()
		return nil, err
	}
	slog.Info("Instrument identified", "addr", t.Address(), "idn", idn)

	p, err := psu.New(ctx, inst, psuConfig(cfg.PSU))
	if err != nil {
		inst.Close()
		return nil, err
	}
	return p, nil
}

func openTransport(ctx context.Context, cfg config.TransportConfig) (transport.Transport, error) {
	switch cfg.Type {
	case "serial":
		return rs232.Open(ctx, cfg.Serial)
	case "gpib":
		return gpib.Open(ctx, cfg.GPIB)
	case "tcp":
		return tcp.Open(ctx, cfg.Tcp)
	case "sim":
		return sim.Open(ctx, cfg.Sim)
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}

func psuConfig(c config.PSUConfig) psu.Config {
	return psu.Config{
		VoltageLimit:  c.VoltageLimit,
		CurrentLimit:  c.CurrentLimit,
		OVP:           c.OVP,
		OCP:           c.OCP,
		LowRangeLimit: c.LowRangeLimit,
		AutoRange:     c.AutoRange,
		InitialRange:  psu.Range(c.InitialRange),
		Poll: scpi.Poller{
			MinLength:   c.PollMinLength,
			MaxAttempts: c.PollAttempts,
			Delay:       c.PollDelay,
		},
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
