// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scpi

// IEEE 488.2 common commands
const (
	CmdIdentity          = "*IDN?"
	CmdClearStatus       = "*CLS"
	CmdEventStatus       = "*ESR?"
	CmdReset             = "*RST"
	CmdOperationComplete = "*OPC?"
)

// Standard event status register bits
const (
	ESROperationComplete = 1 << 0
	ESRQueryError        = 1 << 2
	ESRDeviceError       = 1 << 3
	ESRExecutionError    = 1 << 4
	ESRCommandError      = 1 << 5
	ESRPowerOn           = 1 << 7
)
