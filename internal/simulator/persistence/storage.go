// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"github.com/ffutop/instrlink/internal/simulator/model"
)

// Storage defines the interface for persisting the simulated panel.
type Storage interface {
	// Load loads the panel from storage.
	// A backend without saved state returns a zeroed or default panel.
	Load() (*model.Panel, error)

	// Save saves the current panel to storage.
	Save(p *model.Panel) error

	// OnWrite is a hook called whenever a field is modified.
	// It allows the storage to perform real-time persistence (e.g. sync to disk or DB).
	OnWrite(f model.Field)
}
