// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scpi

import (
	"errors"
	"strconv"
	"strings"
)

var errEmpty = errors.New("empty value")

// value strips surrounding whitespace, an optional echoed parameter name and an
// optional unit suffix, e.g. "V1 12.000\r" or "12.000V\r".
func value(response, echo, unit string) string {
	s := strings.TrimSpace(response)
	if echo != "" {
		s = strings.TrimPrefix(s, echo)
	}
	if unit != "" {
		s = strings.TrimSuffix(s, unit)
	}
	return strings.TrimSpace(s)
}

// ParseFloat parses a numeric response to command.
func ParseFloat(command, response, echo, unit string) (float64, error) {
	s := value(response, echo, unit)
	if s == "" {
		return 0, &MalformedResponseError{Command: command, Response: response, Err: errEmpty}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &MalformedResponseError{Command: command, Response: response, Err: err}
	}
	return v, nil
}

// ParseInt parses an integer response to command.
func ParseInt(command, response, echo string) (int, error) {
	s := value(response, echo, "")
	if s == "" {
		return 0, &MalformedResponseError{Command: command, Response: response, Err: errEmpty}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &MalformedResponseError{Command: command, Response: response, Err: err}
	}
	return v, nil
}

// FormatFloat renders v for a command argument. Whole numbers keep one decimal
// place, so 30 is sent as "30.0".
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
