// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build windows

package gpib

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	ibstaERR = 0x8000

	timeout10s = 13 // T10s
	eotEnable  = 1
	eosNone    = 0
)

// ni488 binds the NI-488.2 C API exported by ni4882.dll or a compatible DLL.
type ni488 struct {
	dll *windows.LazyDLL

	ibdev, ibwrt, ibrd, ibclr, ibrsp, ibonl *windows.LazyProc
	sendIFC, threadIbcnt, threadIberr       *windows.LazyProc
}

func loadNI488(name string) (Library, error) {
	dll := windows.NewLazyDLL(name)
	if err := dll.Load(); err != nil {
		return nil, err
	}
	lib := &ni488{
		dll:         dll,
		ibdev:       dll.NewProc("ibdev"),
		ibwrt:       dll.NewProc("ibwrt"),
		ibrd:        dll.NewProc("ibrd"),
		ibclr:       dll.NewProc("ibclr"),
		ibrsp:       dll.NewProc("ibrsp"),
		ibonl:       dll.NewProc("ibonl"),
		sendIFC:     dll.NewProc("SendIFC"),
		threadIbcnt: dll.NewProc("ThreadIbcnt"),
		threadIberr: dll.NewProc("ThreadIberr"),
	}
	for _, p := range []*windows.LazyProc{lib.ibdev, lib.ibwrt, lib.ibrd, lib.ibclr, lib.ibrsp, lib.ibonl, lib.sendIFC, lib.threadIbcnt, lib.threadIberr} {
		if err := p.Find(); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

func (l *ni488) check(op string, ibsta uintptr) error {
	if uint32(ibsta)&ibstaERR == 0 {
		return nil
	}
	iberr, _, _ := l.threadIberr.Call()
	return fmt.Errorf("%s failed: ibsta 0x%04x, iberr %d", op, uint32(ibsta), int32(iberr))
}

func (l *ni488) Dev(board, pad int) (int, error) {
	ud, _, _ := l.ibdev.Call(uintptr(board), uintptr(pad), 0, timeout10s, eotEnable, eosNone)
	if int32(ud) < 0 {
		iberr, _, _ := l.threadIberr.Call()
		return 0, fmt.Errorf("ibdev failed: iberr %d", int32(iberr))
	}
	return int(int32(ud)), nil
}

func (l *ni488) Write(ud int, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r, _, _ := l.ibwrt.Call(uintptr(ud), uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)))
	return l.check("ibwrt", r)
}

func (l *ni488) Read(ud int, maxLen int) ([]byte, error) {
	if maxLen <= 0 {
		return nil, nil
	}
	buf := make([]byte, maxLen)
	r, _, _ := l.ibrd.Call(uintptr(ud), uintptr(unsafe.Pointer(&buf[0])), uintptr(maxLen))
	if err := l.check("ibrd", r); err != nil {
		return nil, err
	}
	n, _, _ := l.threadIbcnt.Call()
	if int(n) > maxLen {
		n = uintptr(maxLen)
	}
	return buf[:n], nil
}

func (l *ni488) Clear(ud int) error {
	r, _, _ := l.ibclr.Call(uintptr(ud))
	return l.check("ibclr", r)
}

func (l *ni488) SerialPoll(ud int) (byte, error) {
	var spr byte
	r, _, _ := l.ibrsp.Call(uintptr(ud), uintptr(unsafe.Pointer(&spr)))
	if err := l.check("ibrsp", r); err != nil {
		return 0, err
	}
	return spr, nil
}

func (l *ni488) InterfaceClear(board int) error {
	l.sendIFC.Call(uintptr(board))
	return nil
}

func (l *ni488) Offline(ud int) error {
	r, _, _ := l.ibonl.Call(uintptr(ud), 0)
	return l.check("ibonl", r)
}

// Close unloads the DLL.
func (l *ni488) Close() error {
	return windows.FreeLibrary(windows.Handle(l.dll.Handle()))
}
