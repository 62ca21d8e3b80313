// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5: a handshake against a live broker transitions the Core to Connected
// with zero recorded reconnects.
func TestHandshakeSuccess(t *testing.T) {
	s := runServerOnPort(-1)
	defer s.Shutdown()

	addr := s.Addr().String()
	c, err := New(addr, NewOptions(WithMaxReconnects(1)))
	require.NoError(t, err)
	defer c.Shutdown()

	assert.Equal(t, Connected, c.Status())
	assert.Equal(t, uint32(0), c.ss.configured[0].Reconnects)
	assert.NoError(t, c.LastError())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, c.Flush(ctx))
}

// S6: with SIDs {1,2} subscribed, a dropped socket followed by the broker
// coming back up replays both SUB frames before any new user frame, and
// both subscriptions keep receiving messages afterward.
func TestReconnectReplaysSubscriptions(t *testing.T) {
	port := 18222 + (int(time.Now().UnixNano()) % 500)
	s := runServerOnPort(port)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	c, err := New(addr, NewOptions(WithMaxReconnects(10), WithPingInterval(200*time.Millisecond)))
	require.NoError(t, err)
	defer c.Shutdown()

	recv1 := make(chan []byte, 4)
	recv2 := make(chan []byte, 4)
	sid1, err := c.Subscribe("foo", "", sinkFunc(func(m Message) bool { recv1 <- m.Payload; return true }))
	require.NoError(t, err)
	sid2, err := c.Subscribe("bar", "", sinkFunc(func(m Message) bool { recv2 <- m.Payload; return true }))
	require.NoError(t, err)
	assert.Equal(t, SID(1), sid1)
	assert.Equal(t, SID(2), sid2)

	s.Shutdown()

	s2 := runServerOnPort(port)
	defer s2.Shutdown()

	require.Eventually(t, func() bool {
		return c.Status() == Connected
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.EnqueuePub("foo", "", []byte("one")))
	require.NoError(t, c.EnqueuePub("bar", "", []byte("two")))

	select {
	case p := <-recv1:
		assert.Equal(t, "one", string(p))
	case <-time.After(3 * time.Second):
		t.Fatal("subscription on SID 1 was not replayed after reconnect")
	}
	select {
	case p := <-recv2:
		assert.Equal(t, "two", string(p))
	case <-time.After(3 * time.Second):
		t.Fatal("subscription on SID 2 was not replayed after reconnect")
	}
}

type sinkFunc func(Message) bool

func (f sinkFunc) TrySend(m Message) bool { return f(m) }
