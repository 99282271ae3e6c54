// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scpi

import (
	"bytes"
	"context"
	"strings"
	"unicode"

	"github.com/ffutop/instrlink/transport"
	"golang.org/x/text/encoding"
	xunicode "golang.org/x/text/encoding/unicode"
)

const (
	DefaultTerminator = "\n"
	DefaultMaxRead    = 4096
)

// Commander is the string command surface shared by Framer and Session.
type Commander interface {
	Write(ctx context.Context, command string) error
	Query(ctx context.Context, command string) (string, error)
}

// Framer appends the terminator to outgoing commands and strips it from
// responses. It holds no state besides its immutable settings, so one Framer
// may be shared by any number of goroutines.
type Framer struct {
	t       transport.Transport
	term    string
	enc     encoding.Encoding
	maxRead int
	framed  bool
}

// Option configures a Framer.
type Option func(*Framer)

// WithTerminator sets the command/response terminator.
func WithTerminator(term string) Option {
	return func(f *Framer) {
		if term != "" {
			f.term = term
		}
	}
}

// WithEncoding sets the character encoding used on the wire.
func WithEncoding(enc encoding.Encoding) Option {
	return func(f *Framer) {
		if enc != nil {
			f.enc = enc
		}
	}
}

// WithMaxRead sets the default response size limit.
func WithMaxRead(n int) Option {
	return func(f *Framer) {
		if n > 0 {
			f.maxRead = n
		}
	}
}

// NewFramer creates a Framer over t.
func NewFramer(t transport.Transport, opts ...Option) *Framer {
	f := &Framer{
		t:       t,
		term:    DefaultTerminator,
		enc:     xunicode.UTF8,
		maxRead: DefaultMaxRead,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.framed = transport.IsMessageFramed(t)
	return f
}

// Transport returns the underlying link.
func (f *Framer) Transport() transport.Transport {
	return f.t
}

// Terminator returns the configured terminator.
func (f *Framer) Terminator() string {
	return f.term
}

// Exclusive runs fn with the link locked. All commands issued through the
// Session form one uninterrupted exchange on the wire.
func (f *Framer) Exclusive(ctx context.Context, fn func(s Session) error) error {
	return f.t.Exclusive(ctx, func(c transport.Conn) error {
		return fn(Session{f: f, c: c})
	})
}

// Write sends command followed by the terminator.
func (f *Framer) Write(ctx context.Context, command string) error {
	return f.Exclusive(ctx, func(s Session) error {
		return s.Write(ctx, command)
	})
}

// Read receives one response of at most maxLen bytes; maxLen <= 0 selects the
// default. An empty string means nothing arrived before the link timed out.
func (f *Framer) Read(ctx context.Context, maxLen int) (resp string, err error) {
	err = f.Exclusive(ctx, func(s Session) error {
		resp, err = s.Read(ctx, maxLen)
		return err
	})
	return
}

// Query sends command and reads its response as one locked exchange.
func (f *Framer) Query(ctx context.Context, command string) (string, error) {
	return f.QueryN(ctx, command, 0)
}

// QueryN is Query with an explicit response size limit.
func (f *Framer) QueryN(ctx context.Context, command string, maxLen int) (resp string, err error) {
	err = f.Exclusive(ctx, func(s Session) error {
		resp, err = s.QueryN(ctx, command, maxLen)
		return err
	})
	return
}

// QueryBytes sends command and reads n raw bytes without text decoding.
func (f *Framer) QueryBytes(ctx context.Context, command string, n int) (resp []byte, err error) {
	err = f.Exclusive(ctx, func(s Session) error {
		resp, err = s.QueryBytes(ctx, command, n)
		return err
	})
	return
}

func (f *Framer) encode(command string) ([]byte, error) {
	return f.enc.NewEncoder().Bytes([]byte(command + f.term))
}

// readFrame reads until the terminator, maxLen bytes or an empty read.
// Message framed links deliver a whole response per read.
func (f *Framer) readFrame(c transport.Conn, maxLen int) ([]byte, error) {
	if maxLen <= 0 {
		maxLen = f.maxRead
	}
	if f.framed {
		return c.ReadBytes(maxLen)
	}
	term := []byte(f.term)
	var buf []byte
	for len(buf) < maxLen {
		chunk, err := c.ReadBytes(maxLen - len(buf))
		if err != nil {
			return buf, err
		}
		if len(chunk) == 0 {
			break
		}
		buf = append(buf, chunk...)
		if bytes.HasSuffix(buf, term) {
			break
		}
	}
	return buf, nil
}

func (f *Framer) decode(command string, raw []byte) (string, error) {
	text, err := f.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", &MalformedResponseError{Command: command, Response: string(raw), Err: err}
	}
	return f.clean(string(text)), nil
}

// clean strips trailing terminator characters and leading whitespace.
func (f *Framer) clean(s string) string {
	s = strings.TrimRight(s, f.term)
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

// Session is a Framer bound to a locked link. It is only valid inside the
// function passed to Framer.Exclusive.
type Session struct {
	f *Framer
	c transport.Conn
}

// Write sends command followed by the terminator.
func (s Session) Write(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.f.encode(command)
	if err != nil {
		return err
	}
	return s.c.WriteBytes(p)
}

// Read receives one response.
func (s Session) Read(ctx context.Context, maxLen int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := s.f.readFrame(s.c, maxLen)
	if err != nil {
		return "", err
	}
	return s.f.decode("", raw)
}

// Query sends command and reads its response.
func (s Session) Query(ctx context.Context, command string) (string, error) {
	return s.QueryN(ctx, command, 0)
}

// QueryN is Query with an explicit response size limit.
func (s Session) QueryN(ctx context.Context, command string, maxLen int) (string, error) {
	if err := s.Write(ctx, command); err != nil {
		return "", err
	}
	raw, err := s.f.readFrame(s.c, maxLen)
	if err != nil {
		return "", err
	}
	return s.f.decode(command, raw)
}

// QueryBytes sends command and reads n raw bytes.
func (s Session) QueryBytes(ctx context.Context, command string, n int) ([]byte, error) {
	if err := s.Write(ctx, command); err != nil {
		return nil, err
	}
	return transport.ReadExact(s.c, n)
}
