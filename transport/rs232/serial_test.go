// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rs232

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/transport"
	"github.com/grid-x/serial"
)

type mockPort struct {
	io.Reader
	io.Writer
	closes int
}

func (m *mockPort) Close() error {
	m.closes++
	return nil
}

// timeoutReader times out once its data is drained.
type timeoutReader struct {
	r io.Reader
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err == io.EOF {
		return n, serial.ErrTimeout
	}
	return n, err
}

func withMockPort(t *testing.T, mock *mockPort, openErr error) *serial.Config {
	t.Helper()
	var got serial.Config
	orig := openPort
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		got = *c
		if openErr != nil {
			return nil, openErr
		}
		return mock, nil
	}
	t.Cleanup(func() { openPort = orig })
	return &got
}

func TestOpen_Config(t *testing.T) {
	mock := &mockPort{Reader: &bytes.Buffer{}, Writer: &bytes.Buffer{}}
	got := withMockPort(t, mock, nil)

	link, err := Open(context.Background(), config.SerialConfig{
		Device:   "/dev/ttyUSB0",
		BaudRate: 9600,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer link.Close()

	if got.Address != "/dev/ttyUSB0" || got.BaudRate != 9600 || got.Parity != "N" || got.Timeout != 100*time.Millisecond {
		t.Errorf("serial config = %+v", *got)
	}
	if got.RS485.Enabled {
		t.Error("RS485 enabled without being configured")
	}
	if link.Address() != "/dev/ttyUSB0" {
		t.Errorf("Address() = %q", link.Address())
	}
}

func TestOpen_ConnectionError(t *testing.T) {
	withMockPort(t, nil, errors.New("no such file or directory"))

	_, err := Open(context.Background(), config.SerialConfig{Device: "/dev/ttyUSB7"})
	if !transport.IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "/dev/ttyUSB7") {
		t.Errorf("error %q does not name the device", err)
	}
}

func TestLink_WriteRead(t *testing.T) {
	writer := &bytes.Buffer{}
	mock := &mockPort{Reader: &timeoutReader{r: strings.NewReader("V1 12.000\r\n")}, Writer: writer}
	withMockPort(t, mock, nil)

	link, err := Open(context.Background(), config.SerialConfig{Device: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := link.WriteBytes([]byte("V1?\n")); err != nil {
		t.Fatalf("WriteBytes failed: %v", err)
	}
	if writer.String() != "V1?\n" {
		t.Errorf("wire = %q", writer.String())
	}

	data, err := link.ReadBytes(64)
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	if string(data) != "V1 12.000\r\n" {
		t.Errorf("ReadBytes() = %q", data)
	}

	// Timeout: nothing left, no error.
	data, err = link.ReadBytes(64)
	if err != nil || len(data) != 0 {
		t.Errorf("ReadBytes() after drain = %q, %v", data, err)
	}

	link.Close()
	link.Close()
	if mock.closes != 1 {
		t.Errorf("port closed %d times, want 1", mock.closes)
	}
}

func TestLink_ReadError(t *testing.T) {
	mock := &mockPort{Reader: strings.NewReader(""), Writer: &bytes.Buffer{}}
	withMockPort(t, mock, nil)

	link, err := Open(context.Background(), config.SerialConfig{Device: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer link.Close()

	if _, err := link.ReadBytes(8); !transport.IsTransportError(err) {
		t.Errorf("expected TransportError for EOF, got %v", err)
	}
}
