// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
)

// Conn is a raw byte channel to an instrument.
//
// WriteBytes transmits the whole buffer. ReadBytes returns at most maxLen bytes.
// Backends with a read timeout (serial, tcp) block up to that timeout and return
// whatever arrived, possibly nothing; an empty result is not an error. Backends
// with message framing in hardware (GPIB) block until maxLen bytes or END.
type Conn interface {
	WriteBytes(p []byte) error
	ReadBytes(maxLen int) ([]byte, error)
}

// Transport is a Conn bound to one physical link.
//
// Every method locks the link for its full duration. Exclusive holds the lock
// across a compound exchange such as a write followed by a read, so that no
// other request can interleave bytes on the wire. The Conn passed to fn does
// not lock and must not be used after fn returns.
type Transport interface {
	Conn

	// ReadExact reads n bytes, stopping early only when the link times out.
	ReadExact(n int) ([]byte, error)

	// Exclusive runs fn with the link locked.
	Exclusive(ctx context.Context, fn func(Conn) error) error

	// Address names the link for diagnostics, e.g. "/dev/ttyUSB0" or "GPIB0::11".
	Address() string

	// Close releases the link. Calling it more than once is a no-op.
	Close() error
}

// NoStatusByte is returned by serial polls when the device supplied no status
// byte, or by links that have no serial poll.
const NoStatusByte = -256
