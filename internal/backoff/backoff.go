// Copyright 2012 Apcera Inc. All rights reserved.

// Package backoff computes the truncated exponential backoff used before
// each connect attempt, and sleeps it against an injectable clock so
// tests can assert the computed duration without a real sleep.
package backoff

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// maxExponent is log2(4096ms), the cap on the truncated exponent.
	maxExponent = 12
	// Cap is the maximum backoff duration: 2^12 ms = 4096ms.
	Cap = 1 << maxExponent * time.Millisecond
)

// Duration returns the backoff before a connect attempt given the number
// of prior consecutive failures on the same server: 0 when reconnects is
// 0, otherwise 2^min(12,reconnects) milliseconds.
func Duration(reconnects uint32) time.Duration {
	if reconnects == 0 {
		return 0
	}
	exp := reconnects
	if exp > maxExponent {
		exp = maxExponent
	}
	return time.Duration(1<<exp) * time.Millisecond
}

// Sleep waits out Duration(reconnects) against clock, returning the
// duration it slept so callers (and tests) can observe it.
func Sleep(clock clockwork.Clock, reconnects uint32) time.Duration {
	d := Duration(reconnects)
	if d > 0 {
		clock.Sleep(d)
	}
	return d
}
