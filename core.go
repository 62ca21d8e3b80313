// Copyright 2012 Apcera Inc. All rights reserved.

// Package corelink is the core of a client for a text-framed publish/
// subscribe broker: connection management, the wire codec, and the
// two-worker I/O engine. The ergonomic user-facing API (Publish/Subscribe/
// Request returning a Subscription handle with its own delivery channel)
// is an external collaborator built on top of the primitives here.
package corelink

import (
	"context"
	"strings"
	"time"

	"github.com/brokerclient/corelink/internal/discovery"
	"github.com/brokerclient/corelink/internal/proto"
)

// Core is the shared handle returned by New: it owns the connection to
// the broker, the subscription table, and the two worker goroutines.
type Core struct {
	ss *sharedState
}

// New parses urls (a comma-separated server list, as in the wire-level URL
// syntax), runs the negotiator to establish the first connection, spawns
// the inbound and outbound workers, and returns the shared handle. If
// Options.SRVDiscovery is set, a DNS SRV lookup augments the URL list
// before parsing.
func New(urls string, opts Options) (*Core, error) {
	opts = opts.withDefaults()
	rawURLs := strings.Split(urls, ",")

	if opts.SRVDiscovery {
		if extra, err := discoverSRV(opts.SRVDomain); err == nil {
			rawURLs = append(rawURLs, extra...)
		} else {
			opts.Logger.WithError(err).Warn("SRV discovery failed, continuing with configured URLs only")
		}
	}

	servers, err := ParseServers(rawURLs)
	if err != nil {
		return nil, err
	}

	hr, err := negotiate(servers, opts, nil)
	if err != nil {
		return nil, err
	}

	ss := newSharedState(opts, hr, servers)
	ss.threads = workerThreads{
		inboundDone:  make(chan struct{}),
		outboundDone: make(chan struct{}),
	}

	go ss.inboundLoop()
	go ss.outboundLoop()

	return &Core{ss: ss}, nil
}

// EnqueuePub enqueues a PUB frame. It returns once the frame is appended
// to the outbound buffer — fire-and-forget, matching the wire contract
// that publish succeeds as soon as the frame is queued.
func (c *Core) EnqueuePub(subject, replyTo string, payload []byte) error {
	if c.ss.isShuttingDown() {
		return ErrShutdown
	}
	return c.ss.enqueueOutbound(proto.OpPub{Subject: subject, ReplyTo: replyTo, Payload: payload})
}

// Subscribe registers sink under a freshly allocated SID and enqueues the
// corresponding SUB frame before returning, satisfying the invariant that
// every SID in the subscription table has been sent to the broker before
// any user-observable return.
func (c *Core) Subscribe(subject, queue string, sink Sink) (SID, error) {
	if c.ss.isShuttingDown() {
		return 0, ErrShutdown
	}
	sid := c.ss.allocSID()
	if err := c.ss.enqueueOutbound(proto.OpSub{Subject: subject, Queue: queue, SID: uint64(sid)}); err != nil {
		return 0, err
	}
	c.ss.insertSub(sid, &SubscriptionState{Subject: subject, Queue: queue, Sink: sink})
	return sid, nil
}

// Unsubscribe removes sid from the subscription table (unless maxMsgs > 0,
// in which case the broker enforces the cap and the client keeps the
// entry until the server stops delivering) and enqueues the UNSUB frame.
// Messages already decoded in flight for this SID may still be delivered
// and are dropped gracefully once the entry is gone.
func (c *Core) Unsubscribe(sid SID, maxMsgs int) error {
	if c.ss.isShuttingDown() {
		return ErrShutdown
	}
	if maxMsgs <= 0 {
		if _, ok := c.ss.removeSub(sid); !ok {
			return ErrBadSubscription
		}
		return c.ss.enqueueOutbound(proto.OpUnsub{SID: uint64(sid)})
	}
	if _, ok := c.ss.lookupSub(sid); !ok {
		return ErrBadSubscription
	}
	return c.ss.enqueueOutbound(proto.OpUnsub{SID: uint64(sid), MaxMsgs: uint64(maxMsgs), HasMax: true})
}

// Flush performs a PING/PONG round trip and returns once the broker's
// PONG is observed, or ctx is done, or the connection closes first. A PUB
// enqueued by the same caller before Flush is guaranteed to have reached
// the broker once Flush returns nil.
func (c *Core) Flush(ctx context.Context) error {
	if c.ss.isShuttingDown() {
		return ErrShutdown
	}
	ch := make(chan bool, 1)
	c.ss.pushPong(ch)
	if err := c.ss.enqueueOutbound(proto.OpPingC{}); err != nil {
		return err
	}

	select {
	case ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushTimeout is a convenience wrapper around Flush with a fixed
// deadline, mirroring the teacher's FlushTimeout.
func (c *Core) FlushTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Flush(ctx)
}

// LastError reports the most recent recorded error: a fatal-to-current-
// connection error, or an advisory -ERR from the broker. It is cleared on
// a successful reconnect.
func (c *Core) LastError() error {
	return c.ss.getLastError()
}

// Status reports the current connection lifecycle state.
func (c *Core) Status() ConnectionStatus {
	return c.ss.getStatus()
}

// Shutdown idempotently tears the Core down: the first caller flips
// shutting_down, signals the outbound worker, and joins both workers.
// Subsequent callers return immediately. The workers report no errors on
// exit, so Shutdown always returns nil.
func (c *Core) Shutdown() error {
	ss := c.ss
	if !ss.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	ss.signalOutbound()
	ss.forceBreakConnection()
	ss.wakeOutboundWaiters()

	<-ss.threads.outboundDone
	<-ss.threads.inboundDone

	ss.setStatus(Closed)
	ss.drainPongs()
	return nil
}

func discoverSRV(domain string) ([]string, error) {
	return discovery.LookupSRV("nats", "tcp", domain)
}
