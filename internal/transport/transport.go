// Copyright 2012 Apcera Inc. All rights reserved.

// Package transport implements Component I: a small dialer abstraction so
// the negotiator can speak either raw TCP (optionally TLS-upgraded) or
// WebSocket to a broker address, behind the same io.ReadWriteCloser shape.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// Kind selects which dialer Dial uses.
type Kind int

const (
	TCP Kind = iota
	WebSocket
)

// Stream is a connected, byte-oriented duplex link to a broker. Both the
// TCP and WebSocket implementations satisfy it.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dial opens a Stream of the given kind to addr within timeout.
func Dial(ctx context.Context, kind Kind, addr string, timeout time.Duration) (Stream, error) {
	switch kind {
	case WebSocket:
		return dialWebSocket(ctx, addr, timeout)
	default:
		return dialTCP(ctx, addr, timeout)
	}
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (Stream, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UpgradeTLS re-wraps an already-connected TCP stream with TLS, as
// required when either side's tls_required flag is set. It must be called
// before the handshake's PONG read, per the design notes.
func UpgradeTLS(s Stream, serverName string) (Stream, error) {
	conn, ok := s.(net.Conn)
	if !ok {
		return nil, errNotUpgradeable
	}
	tlsConn := tls.Client(conn, &tls.Config{ServerName: serverName})
	return tlsConn, nil
}

var errNotUpgradeable = errTLSUnsupported{}

type errTLSUnsupported struct{}

func (errTLSUnsupported) Error() string { return "transport: stream does not support TLS upgrade" }

// dialWebSocket dials addr over WebSocket and adapts the *websocket.Conn to
// the Stream interface using its NetConn helper, so the rest of the codec never needs to know which
// transport it's running over.
func dialWebSocket(ctx context.Context, addr string, timeout time.Duration) (Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}

	c, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}
