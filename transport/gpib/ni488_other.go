// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build !windows

package gpib

import (
	"errors"
	"runtime"
)

func loadNI488(name string) (Library, error) {
	return nil, errors.New("NI-488.2 libraries are only supported on windows, not " + runtime.GOOS)
}
