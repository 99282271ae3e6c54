// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scpi

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollAttempts bounds how often a setpoint read is repeated while the
// device settles. The link timeout paces each attempt, so this is a latency
// budget, not a rate.
const DefaultPollAttempts = 100

// PollUntil calls query until its result is at least minLength long or
// maxAttempts calls have been made. On exhaustion it returns the last result
// and no error; parsing that result is the caller's job. A query error stops
// polling immediately.
func PollUntil(query func() (string, error), minLength, maxAttempts int) (string, error) {
	return Poller{MinLength: minLength, MaxAttempts: maxAttempts}.Poll(context.Background(), query)
}

// Poller is a configured PollUntil.
type Poller struct {
	MinLength   int
	MaxAttempts int
	Delay       time.Duration // Pause between attempts, zero for none
}

// Poll runs query under the poller's budget.
func (p Poller) Poll(ctx context.Context, query func() (string, error)) (string, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last string
	for i := 1; i <= attempts; i++ {
		resp, err := query()
		if err != nil {
			return "", err
		}
		last = resp
		if len(resp) >= p.MinLength {
			if i > 1 {
				slog.Debug("poll settled", "attempts", i, "response", resp)
			}
			return resp, nil
		}
		if i == attempts {
			break
		}
		if p.Delay > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}
	slog.Warn("poll budget exhausted", "attempts", attempts, "minLength", p.MinLength, "response", last)
	return last, nil
}
