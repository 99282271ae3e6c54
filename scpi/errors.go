// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scpi

import (
	"errors"
	"fmt"
)

// MalformedResponseError reports a response that could not be parsed, including
// one that never reached its minimum length within the polling budget.
type MalformedResponseError struct {
	Command  string
	Response string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("scpi: malformed response %q to %q: %v", e.Response, e.Command, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsMalformedResponse checks if err is a MalformedResponseError.
func IsMalformedResponse(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
