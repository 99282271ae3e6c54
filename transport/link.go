// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"encoding/hex"
	"log/slog"
	"runtime"
	"sync"
)

// Backend is the unlocked I/O of a concrete link (serial port, GPIB device,
// socket). Link serializes every call into it.
type Backend interface {
	Write(p []byte) error
	Read(maxLen int) ([]byte, error)
	// Release frees the underlying resource. Link calls it at most once.
	Release() error
}

// MessageBackend is a Backend whose Read returns one complete message, ended
// by the hardware (GPIB END), rather than whatever bytes happen to be buffered.
type MessageBackend interface {
	Backend
	MessageFramed() bool
}

// IsMessageFramed reports whether reads on t end at a message boundary.
func IsMessageFramed(t Transport) bool {
	m, ok := t.(interface{ MessageFramed() bool })
	return ok && m.MessageFramed()
}

// Link implements Transport on top of a Backend.
type Link struct {
	address string

	mu      sync.Mutex
	backend Backend
	closed  bool
}

// NewLink wraps an opened backend. A link that is garbage collected without
// being closed is closed by a finalizer.
func NewLink(address string, backend Backend) *Link {
	l := &Link{
		address: address,
		backend: backend,
	}
	runtime.SetFinalizer(l, (*Link).finalize)
	return l
}

// Address implements Transport.
func (l *Link) Address() string {
	return l.address
}

// MessageFramed reports whether the backend delivers whole messages.
func (l *Link) MessageFramed() bool {
	m, ok := l.backend.(MessageBackend)
	return ok && m.MessageFramed()
}

// WriteBytes implements Conn.
func (l *Link) WriteBytes(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.write(p)
}

// ReadBytes implements Conn.
func (l *Link) ReadBytes(maxLen int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.read(maxLen)
}

// ReadExact implements Transport.
func (l *Link) ReadExact(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return ReadExact(heldConn{l}, n)
}

// Exclusive implements Transport.
func (l *Link) Exclusive(ctx context.Context, fn func(Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed {
		return &TransportError{Op: "lock", Address: l.address, Err: ErrClosed}
	}
	return fn(heldConn{l})
}

// Close implements Transport.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.close()
}

// close releases the backend once. Caller must hold the mutex.
func (l *Link) close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	runtime.SetFinalizer(l, nil)
	slog.Debug("closing link", "addr", l.address)
	if err := l.backend.Release(); err != nil {
		return &TransportError{Op: "close", Address: l.address, Err: err}
	}
	return nil
}

func (l *Link) finalize() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		slog.Warn("link was not closed, releasing it", "addr", l.address)
		l.close()
	}
}

// write sends p. Caller must hold the mutex.
func (l *Link) write(p []byte) error {
	if l.closed {
		return &TransportError{Op: "write", Address: l.address, Err: ErrClosed}
	}
	slog.Debug("send to instrument", "addr", l.address, "request", hex.EncodeToString(p))
	if err := l.backend.Write(p); err != nil {
		return &TransportError{Op: "write", Address: l.address, Err: err}
	}
	return nil
}

// read receives up to maxLen bytes. Caller must hold the mutex.
func (l *Link) read(maxLen int) ([]byte, error) {
	if l.closed {
		return nil, &TransportError{Op: "read", Address: l.address, Err: ErrClosed}
	}
	data, err := l.backend.Read(maxLen)
	if err != nil {
		return nil, &TransportError{Op: "read", Address: l.address, Err: err}
	}
	slog.Debug("recv from instrument", "addr", l.address, "response", hex.EncodeToString(data))
	return data, nil
}

// heldConn is the Conn handed out while the link mutex is held.
type heldConn struct {
	l *Link
}

func (c heldConn) WriteBytes(p []byte) error {
	return c.l.write(p)
}

func (c heldConn) ReadBytes(maxLen int) ([]byte, error) {
	return c.l.read(maxLen)
}

// ReadExact reads from c until n bytes have arrived or a read returns nothing.
func ReadExact(c Conn, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk, err := c.ReadBytes(n - len(buf))
		if err != nil {
			return buf, err
		}
		if len(chunk) == 0 {
			break
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}
