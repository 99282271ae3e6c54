// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type countingBackend struct {
	mu       sync.Mutex
	releases int
	data     []byte
	inFlight int
	maxSeen  int
}

func (b *countingBackend) track(delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight += delta
	if b.inFlight > b.maxSeen {
		b.maxSeen = b.inFlight
	}
}

func (b *countingBackend) Write(p []byte) error {
	b.track(1)
	defer b.track(-1)
	b.data = append(b.data, p...)
	return nil
}

func (b *countingBackend) Read(maxLen int) ([]byte, error) {
	b.track(1)
	defer b.track(-1)
	if maxLen > len(b.data) {
		maxLen = len(b.data)
	}
	out := b.data[:maxLen]
	b.data = b.data[maxLen:]
	return out, nil
}

func (b *countingBackend) Release() error {
	b.releases++
	return nil
}

func TestLink_CloseTwice(t *testing.T) {
	b := &countingBackend{}
	l := NewLink("mock0", b)

	if err := l.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if b.releases != 1 {
		t.Errorf("releases = %d, want 1", b.releases)
	}
}

func TestLink_UseAfterClose(t *testing.T) {
	l := NewLink("mock0", &countingBackend{})
	l.Close()

	err := l.WriteBytes([]byte("OP1 0\n"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("WriteBytes() error = %v, want ErrClosed", err)
	}
	if !IsTransportError(err) {
		t.Errorf("WriteBytes() error %v is not a TransportError", err)
	}
	if _, err := l.ReadBytes(8); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadBytes() error = %v, want ErrClosed", err)
	}
}

func TestLink_ReleaseError(t *testing.T) {
	l := NewLink("mock0", &failingBackend{})
	err := l.Close()
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "close" || te.Address != "mock0" {
		t.Errorf("Close() error = %v", err)
	}
}

type failingBackend struct{ countingBackend }

func (f *failingBackend) Release() error { return errors.New("handle busy") }

func TestLink_ReadExact(t *testing.T) {
	b := &countingBackend{data: []byte("abcdef")}
	l := NewLink("mock0", b)

	got, err := l.ReadExact(4)
	if err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	if string(got) != "abcd" {
		t.Errorf("ReadExact(4) = %q", got)
	}

	// Only two bytes left; the empty read ends the loop.
	got, err = l.ReadExact(4)
	if err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	if string(got) != "ef" {
		t.Errorf("ReadExact(4) = %q, want %q", got, "ef")
	}
}

func TestLink_ExclusiveSerializes(t *testing.T) {
	b := &countingBackend{}
	l := NewLink("mock0", b)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := l.Exclusive(context.Background(), func(c Conn) error {
					if err := c.WriteBytes([]byte("x")); err != nil {
						return err
					}
					_, err := c.ReadBytes(1)
					return err
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if b.maxSeen != 1 {
		t.Errorf("max concurrent backend calls = %d, want 1", b.maxSeen)
	}
}

func TestLink_ExclusiveCanceled(t *testing.T) {
	l := NewLink("mock0", &countingBackend{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.Exclusive(ctx, func(Conn) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("Exclusive() = %v, called %v", err, called)
	}
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("no such file or directory")
	err := error(&ConnectionError{Address: "/dev/ttyUSB9", Err: cause})

	if !IsConnectionError(err) {
		t.Error("IsConnectionError() = false")
	}
	if !errors.Is(err, cause) {
		t.Error("ConnectionError does not unwrap to its cause")
	}
	if msg := err.Error(); !strings.Contains(msg, "/dev/ttyUSB9") {
		t.Errorf("message %q does not name the address", msg)
	}
}
