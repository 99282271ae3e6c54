// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/ffutop/instrlink/scpi"
)

// maxLine bounds one command line from a client.
const maxLine = 4096

var ErrWriteRejected = errors.New("bridge: only queries are forwarded")

// Handler answers one command line. An empty response sends nothing back.
type Handler func(ctx context.Context, line string) (string, error)

// SetpointReader answers setpoint queries, typically a *psu.PowerSupply
// that serves them from its cache while the output is enabled.
type SetpointReader interface {
	VoltageSetpoint(ctx context.Context) (float64, error)
	CurrentSetpoint(ctx context.Context) (float64, error)
}

// QueryHandler forwards single queries (commands ending in '?') to c and
// rejects everything else, so that clients can observe the instrument but
// cannot bypass the driver's limits. Chained commands are rejected too. When
// sp is not nil, V1? and I1? are answered by sp instead of the link.
func QueryHandler(c scpi.Commander, sp SetpointReader) Handler {
	return func(ctx context.Context, line string) (string, error) {
		if !strings.HasSuffix(line, "?") || strings.Contains(line, ";") {
			return "", fmt.Errorf("%w: %q", ErrWriteRejected, line)
		}
		if sp != nil {
			switch strings.ToUpper(line) {
			case "V1?":
				v, err := sp.VoltageSetpoint(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("V1 %.3f", v), nil
			case "I1?":
				i, err := sp.CurrentSetpoint(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("I1 %.4f", i), nil
			}
		}
		return c.Query(ctx, line)
	}
}

// Server shares an instrument link with other processes over a line based
// TCP protocol: one command per line, one reply line per query.
type Server struct {
	Address string
	Handler Handler

	listener net.Listener
}

// NewServer creates a bridge Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Listen opens the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("Bridge server listening", "addr", listener.Addr())
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context, handler Handler) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx, handler)
}

// Serve accepts clients on a listening server until ctx is done.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.Handler = handler
	if s.listener == nil {
		return errors.New("bridge: server is not listening")
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	slog.Info("New bridge client connected", "addr", conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if s.Handler == nil {
			slog.Error("No handler defined for bridge server")
			return
		}

		resp, err := s.Handler(ctx, line)
		if err != nil {
			slog.Warn("Bridge command failed", "addr", conn.RemoteAddr(), "command", line, "err", err)
			resp = "ERR " + err.Error()
		}
		if resp == "" {
			continue
		}
		if _, err := conn.Write([]byte(strings.TrimRight(resp, "\r\n") + "\n")); err != nil {
			slog.Error("Failed to write response to connection", "err", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	slog.Info("Bridge client disconnected gracefully", "addr", conn.RemoteAddr())
}
