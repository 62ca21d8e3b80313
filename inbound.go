// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"bytes"
	"errors"
	"strings"

	"github.com/brokerclient/corelink/internal/proto"
)

// inboundLoop is Component E. It runs until shutdown is observed or
// reconnection is exhausted, decoding one frame at a time and dispatching
// it: MSG is delivered to its subscription's Sink, PING is answered with a
// queued PONG, PONG signals the front pending waiter, INFO merges learned
// servers, -ERR is recorded (and may trigger a reconnect), and Unknown is
// logged and ignored.
func (ss *sharedState) inboundLoop() {
	defer close(ss.threads.inboundDone)

	for {
		if ss.isShuttingDown() {
			return
		}

		_, reader := ss.currentStream()
		op, err := proto.Decode(reader)
		if err != nil {
			if ss.isShuttingDown() {
				return
			}
			if !ss.reconnect() {
				ss.finalClose()
				return
			}
			continue
		}

		switch v := op.(type) {
		case proto.OpMsg:
			ss.deliverMsg(v)
		case proto.OpPing:
			_ = ss.enqueueOutbound(proto.OpPongC{})
		case proto.OpPong:
			if ch, ok := ss.popPong(); ok && ch != nil {
				select {
				case ch <- true:
				default:
				}
			}
		case proto.OpInfo:
			ss.processInfo(v)
		case proto.OpErr:
			if !ss.processErr(v) {
				return
			}
		case proto.OpUnknown:
			ss.log.WithField("line", v.Raw).Debug("unknown server op, ignoring")
		}
	}
}

func (ss *sharedState) deliverMsg(v proto.OpMsg) {
	sid := SID(v.SID)
	st, ok := ss.lookupSub(sid)
	if !ok {
		return
	}
	m := Message{
		Subject: v.Subject,
		SID:     sid,
		ReplyTo: v.ReplyTo,
		Payload: v.Payload,
	}
	if !st.Sink.TrySend(m) {
		ss.log.WithField("sid", sid).Warn("dropping message: sink full or closed")
	}
}

func (ss *sharedState) processInfo(v proto.OpInfo) {
	info, err := decodeServerInfo(v.Raw)
	if err != nil {
		ss.log.WithError(err).Warn("failed to decode INFO update")
		return
	}
	ss.mergeLearned(info.ConnectURLs)
}

// fatalErrSubstrings classifies which -ERR messages are treated as fatal
// (triggering a reconnect) versus advisory (recorded but not acted on).
// The protocol does not distinguish these classes explicitly; this list
// mirrors the server errors that indicate the connection itself is no
// longer viable.
var fatalErrSubstrings = []string{
	"authorization violation",
	"authentication expired",
	"invalid client protocol",
	"stale connection",
	"parser error",
	"maximum connections exceeded",
}

// processErr records the -ERR message and reconnects on a fatal one. It
// returns false when that reconnect is exhausted and the worker must exit.
func (ss *sharedState) processErr(v proto.OpErr) bool {
	fatal := isFatalErr(v.Message)
	ss.setLastError(errors.New(v.Message), fatal)
	if fatal && !ss.reconnect() {
		ss.finalClose()
		return false
	}
	return true
}

func isFatalErr(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range fatalErrSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// reconnect is invoked by the inbound worker when the socket is observed
// broken (decoder EOF/I/O error) or a fatal -ERR is seen. It transitions
// to Reconnecting, invokes the negotiator, and on success puts every
// subscription's SUB frame, in SID order, ahead of anything already queued
// in the outbound buffer before reporting Connected. It returns false when
// every reconnect attempt is exhausted.
func (ss *sharedState) reconnect() bool {
	if ss.isShuttingDown() {
		return false
	}
	ss.setStatus(Reconnecting)
	ss.log.Info("connection lost, reconnecting")

	hr, err := negotiate(ss.allServers(), ss.options, ss.isShuttingDown)
	if err != nil {
		ss.setLastError(err, true)
		ss.log.WithError(err).Error("reconnect exhausted")
		return false
	}

	ss.setStream(hr.stream, hr.reader)
	ss.clearLastError()

	var replay bytes.Buffer
	for _, entry := range ss.snapshotSubsOrdered() {
		_ = proto.Encode(&replay, proto.OpSub{
			Subject: entry.state.Subject,
			Queue:   entry.state.Queue,
			SID:     uint64(entry.sid),
		})
	}
	ss.rePrependOutbound(replay.Bytes())
	ss.signalOutbound()
	ss.setStatus(Connected)
	ss.log.Info("reconnected")
	return true
}

// finalClose is reached when reconnection is exhausted: status becomes
// Closed, every pending PONG waiter is signaled false, and the inbound
// worker exits.
func (ss *sharedState) finalClose() {
	ss.setStatus(Closed)
	ss.drainPongs()
}
