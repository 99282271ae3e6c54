// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package gpib

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/scpi"
	"github.com/ffutop/instrlink/transport"
)

type fakeLibrary struct {
	devErr   error
	pollErr  error
	stb      byte
	written  []string
	replies  []string
	calls    []string
	offlines int
	closed   bool
}

func (f *fakeLibrary) Dev(board, pad int) (int, error) {
	f.calls = append(f.calls, "ibdev")
	if f.devErr != nil {
		return 0, f.devErr
	}
	return 16 + pad, nil
}

func (f *fakeLibrary) Write(ud int, p []byte) error {
	f.calls = append(f.calls, "ibwrt")
	f.written = append(f.written, string(p))
	return nil
}

func (f *fakeLibrary) Read(ud int, maxLen int) ([]byte, error) {
	f.calls = append(f.calls, "ibrd")
	if len(f.replies) == 0 {
		return nil, errors.New("EABO: timeout")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return []byte(r), nil
}

func (f *fakeLibrary) Clear(ud int) error {
	f.calls = append(f.calls, "ibclr")
	return nil
}

func (f *fakeLibrary) SerialPoll(ud int) (byte, error) {
	f.calls = append(f.calls, "ibrsp")
	return f.stb, f.pollErr
}

func (f *fakeLibrary) InterfaceClear(board int) error {
	f.calls = append(f.calls, "SendIFC")
	return nil
}

func (f *fakeLibrary) Offline(ud int) error {
	f.calls = append(f.calls, "ibonl")
	f.offlines++
	return nil
}

func (f *fakeLibrary) Close() error {
	f.closed = true
	return nil
}

func openFake(t *testing.T, lib *fakeLibrary) (*Device, error) {
	t.Helper()
	name := "fake-" + t.Name()
	Register(name, lib)
	t.Cleanup(Shutdown)
	return Open(context.Background(), config.GPIBConfig{Board: 0, Address: 11, Library: name})
}

func TestOpen_SendsDeviceClear(t *testing.T) {
	lib := &fakeLibrary{}
	dev, err := openFake(t, lib)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer dev.Close()

	if got := strings.Join(lib.calls, ","); got != "ibdev,ibclr" {
		t.Errorf("calls = %s", got)
	}
	if dev.Address() != "GPIB0::11" {
		t.Errorf("Address() = %q", dev.Address())
	}
	if !transport.IsMessageFramed(dev) {
		t.Error("GPIB device is not message framed")
	}
}

func TestOpen_ConnectionError(t *testing.T) {
	lib := &fakeLibrary{devErr: errors.New("ENEB: no board")}
	_, err := openFake(t, lib)
	if !transport.IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "GPIB0::11") {
		t.Errorf("error %q does not name the address", err)
	}
}

func TestOpen_MissingLibrary(t *testing.T) {
	orig := loadLibrary
	loadLibrary = func(name string) (Library, error) { return nil, errors.New("not found") }
	t.Cleanup(func() { loadLibrary = orig })

	_, err := Open(context.Background(), config.GPIBConfig{Board: 1, Address: 3, Library: "missing.dll"})
	if !transport.IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestDevice_Query(t *testing.T) {
	lib := &fakeLibrary{replies: []string{"THURLBY THANDAR, PL303-P, 0, 3.05\n"}}
	dev, err := openFake(t, lib)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer dev.Close()
	lib.calls = nil

	resp, err := scpi.NewFramer(dev).Query(context.Background(), scpi.CmdIdentity)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp != "THURLBY THANDAR, PL303-P, 0, 3.05" {
		t.Errorf("Query() = %q", resp)
	}
	if lib.written[0] != "*IDN?\n" {
		t.Errorf("written = %q", lib.written[0])
	}
	if got := strings.Join(lib.calls, ","); got != "ibwrt,SendIFC,ibrd,SendIFC" {
		t.Errorf("calls = %s", got)
	}
}

func TestDevice_StatusByte(t *testing.T) {
	lib := &fakeLibrary{stb: 0x40}
	dev, err := openFake(t, lib)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer dev.Close()

	stb, err := dev.StatusByte(context.Background())
	if err != nil || stb != 0x40 {
		t.Errorf("StatusByte() = %d, %v", stb, err)
	}

	lib.pollErr = errors.New("ENOL: no listener")
	stb, err = dev.StatusByte(context.Background())
	if err != nil || stb != transport.NoStatusByte {
		t.Errorf("StatusByte() = %d, %v, want %d", stb, err, transport.NoStatusByte)
	}

	dev.Close()
	stb, err = dev.StatusByte(context.Background())
	if !errors.Is(err, transport.ErrClosed) || stb != transport.NoStatusByte {
		t.Errorf("StatusByte() after close = %d, %v", stb, err)
	}
}

func TestDevice_CloseOnce(t *testing.T) {
	lib := &fakeLibrary{}
	dev, err := openFake(t, lib)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	dev.Close()
	dev.Close()
	if lib.offlines != 1 {
		t.Errorf("ibonl called %d times, want 1", lib.offlines)
	}
	if err := dev.Clear(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Clear() after close = %v, want ErrClosed", err)
	}
}

func TestShutdown_ReleasesLibraries(t *testing.T) {
	lib := &fakeLibrary{}
	Register("fake-shutdown", lib)
	Shutdown()
	if !lib.closed {
		t.Error("library not released")
	}
}
