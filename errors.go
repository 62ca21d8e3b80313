// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per taxonomic kind named in the design: malformed
// input, an exhausted connect loop, a rejected handshake, a dropped live
// connection, and an operation submitted after shutdown.
var (
	ErrInvalidInput      = errors.New("corelink: invalid input")
	ErrUnreachable       = errors.New("corelink: no server reachable")
	ErrConnectionRefused = errors.New("corelink: connection refused")
	ErrDisconnected      = errors.New("corelink: connection disconnected")
	ErrShutdown          = errors.New("corelink: client is shut down")

	// ErrBadSubscription is returned when an operation targets a SID that
	// is not present in the subscription table.
	ErrBadSubscription = errors.New("corelink: unknown subscription")
)

// wrapf wraps a sentinel kind with a formatted message, preserving
// errors.Is compatibility with the sentinel.
func wrapf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}
