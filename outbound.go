// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"github.com/brokerclient/corelink/internal/proto"
)

// outboundLoop is Component F. It waits for either a signal that new
// bytes were enqueued or a periodic ping-interval tick, swaps the shared
// outbound buffer out under lock, and writes it to the current socket in
// one pass. A partial or failed write marks the connection broken (by
// closing the stream, which makes the inbound worker's next read observe
// EOF) and re-prepends the unwritten bytes so they aren't lost.
func (ss *sharedState) outboundLoop() {
	defer close(ss.threads.outboundDone)

	ticker := ss.options.Clock.NewTicker(ss.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.kick:
		case <-ticker.Chan():
			ss.sendPing()
		}

		if ss.isShuttingDown() {
			ss.flushOnce()
			return
		}

		ss.flushOnce()

		if ss.getStatus() == Closed {
			return
		}
	}
}

func (ss *sharedState) sendPing() {
	if ss.pongQueueLen() >= ss.options.MaxOutstandingPings {
		ss.log.Warn("max outstanding pings exceeded, link considered dead")
		ss.setLastError(wrapf(ErrDisconnected, "too many outstanding pings"), true)
		ss.forceBreakConnection()
		return
	}
	ch := make(chan bool, 1)
	ss.pushPong(ch)
	_ = ss.enqueueOutbound(proto.OpPingC{})
}

func (ss *sharedState) flushOnce() {
	buf := ss.swapOutbound()
	if len(buf) == 0 {
		return
	}

	stream, _ := ss.currentStream()
	if stream == nil {
		ss.rePrependOutbound(buf)
		return
	}

	n, err := stream.Write(buf)
	if err != nil || n != len(buf) {
		ss.log.WithError(err).Warn("outbound write failed or partial, marking connection broken")
		ss.rePrependOutbound(buf[max(n, 0):])
		ss.forceBreakConnection()
	}
}

// forceBreakConnection closes the current stream so the inbound worker's
// blocking read observes EOF and drives the reconnect path; the outbound
// worker itself never reconnects.
func (ss *sharedState) forceBreakConnection() {
	stream, _ := ss.currentStream()
	if stream != nil {
		stream.Close()
	}
}
