// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gpib

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Library is the subset of the NI-488.2 API used to drive one device.
// ud is the unit descriptor returned by Dev.
type Library interface {
	Dev(board, pad int) (ud int, err error)
	Write(ud int, p []byte) error
	// Read returns at most maxLen bytes, ending at END or EOS.
	Read(ud int, maxLen int) ([]byte, error)
	Clear(ud int) error
	SerialPoll(ud int) (byte, error)
	InterfaceClear(board int) error
	Offline(ud int) error
}

// Vendor libraries are process-wide: one handle per library name, shared by
// every device. They are loaded on first use and released by Shutdown.
var (
	libMu       sync.Mutex
	libs        = map[string]Library{}
	loadLibrary = loadNI488
)

// Load returns the named library, loading it on first use.
func Load(name string) (Library, error) {
	libMu.Lock()
	defer libMu.Unlock()

	if lib, ok := libs[name]; ok {
		return lib, nil
	}
	lib, err := loadLibrary(name)
	if err != nil {
		return nil, fmt.Errorf("gpib: could not load %s: %w", name, err)
	}
	slog.Info("GPIB library loaded", "library", name)
	libs[name] = lib
	return lib, nil
}

// Register installs lib under name, replacing any loaded library of that name.
// It allows non-NI drivers and test doubles.
func Register(name string, lib Library) {
	libMu.Lock()
	defer libMu.Unlock()

	libs[name] = lib
}

// Shutdown releases every loaded library. Devices opened from them must be
// closed first.
func Shutdown() {
	libMu.Lock()
	defer libMu.Unlock()

	for name, lib := range libs {
		if closer, ok := lib.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Error("Failed to release GPIB library", "library", name, "err", err)
			}
		}
		delete(libs, name)
	}
}
