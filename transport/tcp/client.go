// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ffutop/instrlink/internal/config"
	"github.com/ffutop/instrlink/transport"
)

const (
	tcpTimeout = 2 * time.Second
)

// socket is a raw SCPI socket, e.g. port 9221 on Aim-TTI LAN instruments.
type socket struct {
	conn    net.Conn
	timeout time.Duration
}

// Open dials the instrument. Reads time out like a serial port: a read that
// times out yields no bytes and no error.
func Open(ctx context.Context, cfg config.TcpConfig) (*transport.Link, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = tcpTimeout
	}

	dialer := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, &transport.ConnectionError{Address: cfg.Address, Err: err}
	}
	slog.Info("TCP instrument connected", "addr", cfg.Address, "timeout", timeout)

	return transport.NewLink(cfg.Address, &socket{conn: conn, timeout: timeout}), nil
}

func (s *socket) Write(p []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(p)
	return err
}

func (s *socket) Read(maxLen int) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxLen)
	n, err := s.conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return buf[:n], nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (s *socket) Release() error {
	return s.conn.Close()
}
