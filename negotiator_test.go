// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// negotiate abandons the sweep as soon as shouldStop reports true, instead
// of running every round against servers that will never answer.
func TestNegotiateAbandonsOnShutdown(t *testing.T) {
	servers, err := ParseServers([]string{"127.0.0.1:1"})
	assert.NoError(t, err)

	opts := NewOptions(WithMaxReconnects(1000))
	_, err = negotiate(servers, opts, func() bool { return true })
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestNegotiateNilShouldStopRunsNormally(t *testing.T) {
	servers, err := ParseServers([]string{"127.0.0.1:1"})
	assert.NoError(t, err)

	opts := NewOptions(WithMaxReconnects(1))
	_, err = negotiate(servers, opts, nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}
