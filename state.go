// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"bufio"
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/go-stack/stack"
	"github.com/nats-io/nuid"
	"github.com/sirupsen/logrus"

	"github.com/brokerclient/corelink/internal/proto"
	"github.com/brokerclient/corelink/internal/transport"
)

// workerThreads holds the two worker goroutines' completion signals, taken
// by shutdown so it can join them exactly once.
type workerThreads struct {
	inboundDone  chan struct{}
	outboundDone chan struct{}
}

// sharedState is Component G: the guarded data structures shared between
// the API surface and the two worker goroutines, plus the two lifecycle
// operations (construct is New, shutdown is Core.Shutdown, both in core.go).
type sharedState struct {
	options Options
	id      string

	shuttingDown atomic.Bool

	lastErrMu sync.RWMutex
	lastErr   error

	statusMu sync.RWMutex
	status   ConnectionStatus

	subsMu  sync.RWMutex
	subs    map[SID]*SubscriptionState
	nextSID uint64

	pongsMu sync.Mutex
	pongs   []chan bool

	outboundMu   sync.Mutex
	outboundCond *sync.Cond
	outboundBuf  bytes.Buffer
	kick         chan struct{}

	connMu sync.Mutex
	stream transport.Stream
	reader *bufio.Reader

	serversMu  sync.Mutex
	configured []*Server
	learned    []*Server

	threads workerThreads
	log     *logrus.Entry
}

func newSharedState(opts Options, hr *handshakeResult, configured []*Server) *sharedState {
	ss := &sharedState{
		options:    opts,
		id:         nuid.Next(),
		subs:       make(map[SID]*SubscriptionState),
		pongs:      make([]chan bool, 0, 8),
		kick:       make(chan struct{}, 1),
		stream:     hr.stream,
		reader:     hr.reader,
		configured: configured,
		learned:    mergeServers(nil, hr.info.ConnectURLs),
	}
	ss.log = opts.Logger.WithField("client_id", ss.id)
	ss.status = Connected
	ss.outboundCond = sync.NewCond(&ss.outboundMu)
	return ss
}

func (ss *sharedState) getStatus() ConnectionStatus {
	ss.statusMu.RLock()
	defer ss.statusMu.RUnlock()
	return ss.status
}

func (ss *sharedState) setStatus(s ConnectionStatus) {
	ss.statusMu.Lock()
	ss.status = s
	ss.statusMu.Unlock()
}

func (ss *sharedState) getLastError() error {
	ss.lastErrMu.RLock()
	defer ss.lastErrMu.RUnlock()
	return ss.lastErr
}

// setLastError stores err as the most recent error, fatal or advisory.
// When fatal is true, the caller's current stack is captured alongside it
// in the log line to aid diagnosing the reconnect trigger.
func (ss *sharedState) setLastError(err error, fatal bool) {
	ss.lastErrMu.Lock()
	ss.lastErr = err
	ss.lastErrMu.Unlock()
	if fatal {
		ss.log.WithField("stack", stack.Trace().TrimRuntime()).Error(err)
	}
}

func (ss *sharedState) clearLastError() {
	ss.lastErrMu.Lock()
	ss.lastErr = nil
	ss.lastErrMu.Unlock()
}

func (ss *sharedState) isShuttingDown() bool {
	return ss.shuttingDown.Load()
}

// allocSID hands out the next monotonically increasing SID.
func (ss *sharedState) allocSID() SID {
	return SID(atomic.AddUint64(&ss.nextSID, 1))
}

// insertSub registers sid in the subscription table. Callers must have
// already enqueued the SUB frame for sid before this insertion becomes
// visible to other goroutines, satisfying the invariant that every SID in
// subs has a SUB frame on the wire before a user-observable return.
func (ss *sharedState) insertSub(sid SID, st *SubscriptionState) {
	ss.subsMu.Lock()
	ss.subs[sid] = st
	ss.subsMu.Unlock()
}

func (ss *sharedState) removeSub(sid SID) (*SubscriptionState, bool) {
	ss.subsMu.Lock()
	defer ss.subsMu.Unlock()
	st, ok := ss.subs[sid]
	if ok {
		delete(ss.subs, sid)
	}
	return st, ok
}

func (ss *sharedState) lookupSub(sid SID) (*SubscriptionState, bool) {
	ss.subsMu.RLock()
	defer ss.subsMu.RUnlock()
	st, ok := ss.subs[sid]
	return st, ok
}

// snapshotSubsOrdered returns a stable, SID-ordered copy of the subscription
// table, used to replay SUB frames after a reconnect.
func (ss *sharedState) snapshotSubsOrdered() []sidSub {
	ss.subsMu.RLock()
	defer ss.subsMu.RUnlock()
	out := make([]sidSub, 0, len(ss.subs))
	for sid, st := range ss.subs {
		out = append(out, sidSub{sid: sid, state: st})
	}
	sortSIDSubs(out)
	return out
}

type sidSub struct {
	sid   SID
	state *SubscriptionState
}

func sortSIDSubs(subs []sidSub) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j-1].sid > subs[j].sid; j-- {
			subs[j-1], subs[j] = subs[j], subs[j-1]
		}
	}
}

// pushPong enqueues a one-shot waiter, to be signaled when the matching
// PONG arrives. Invariant: queue length equals outstanding pings.
func (ss *sharedState) pushPong(ch chan bool) {
	ss.pongsMu.Lock()
	ss.pongs = append(ss.pongs, ch)
	ss.pongsMu.Unlock()
}

// popPong removes and returns the front waiter, FIFO.
func (ss *sharedState) popPong() (chan bool, bool) {
	ss.pongsMu.Lock()
	defer ss.pongsMu.Unlock()
	if len(ss.pongs) == 0 {
		return nil, false
	}
	ch := ss.pongs[0]
	ss.pongs = ss.pongs[1:]
	return ch, true
}

// pongQueueLen reports outstanding un-acked pings, used to detect a dead
// link once it exceeds MaxOutstandingPings.
func (ss *sharedState) pongQueueLen() int {
	ss.pongsMu.Lock()
	defer ss.pongsMu.Unlock()
	return len(ss.pongs)
}

// drainPongs signals every outstanding waiter false, used on Closed.
func (ss *sharedState) drainPongs() {
	ss.pongsMu.Lock()
	waiters := ss.pongs
	ss.pongs = nil
	ss.pongsMu.Unlock()
	for _, ch := range waiters {
		if ch != nil {
			select {
			case ch <- false:
			default:
			}
		}
	}
}

// enqueueOutbound appends an encoded frame to the outbound buffer and
// signals the outbound worker. Appends from a single caller happen under
// outboundMu, so a frame is never split across two callers' writes.
//
// If the buffer already holds at least ReconnectBufferSize bytes (the
// soft cap named by Options.ReconnectBufferSize, most likely to bite
// while Reconnecting, when nothing is draining it), the caller blocks
// until the outbound worker makes room or shutdown is requested, per the
// documented backpressure behavior.
func (ss *sharedState) enqueueOutbound(op proto.ClientOp) error {
	ss.outboundMu.Lock()
	softCap := ss.options.ReconnectBufferSize
	for softCap > 0 && ss.outboundBuf.Len() >= softCap && !ss.isShuttingDown() {
		ss.outboundCond.Wait()
	}
	if ss.isShuttingDown() {
		ss.outboundMu.Unlock()
		return ErrShutdown
	}
	err := proto.Encode(&ss.outboundBuf, op)
	ss.outboundMu.Unlock()
	if err != nil {
		return err
	}
	ss.signalOutbound()
	return nil
}

// wakeOutboundWaiters wakes every caller blocked in enqueueOutbound on the
// backpressure cap, so they can observe isShuttingDown and return
// ErrShutdown instead of blocking forever.
func (ss *sharedState) wakeOutboundWaiters() {
	ss.outboundMu.Lock()
	ss.outboundCond.Broadcast()
	ss.outboundMu.Unlock()
}

func (ss *sharedState) signalOutbound() {
	select {
	case ss.kick <- struct{}{}:
	default:
	}
}

// swapOutbound atomically takes the accumulated outbound bytes, leaving
// the shared buffer empty, for the outbound worker to write in one pass.
// Draining the buffer below the soft cap wakes any caller blocked in
// enqueueOutbound.
func (ss *sharedState) swapOutbound() []byte {
	ss.outboundMu.Lock()
	defer ss.outboundMu.Unlock()
	if ss.outboundBuf.Len() == 0 {
		return nil
	}
	b := make([]byte, ss.outboundBuf.Len())
	copy(b, ss.outboundBuf.Bytes())
	ss.outboundBuf.Reset()
	ss.outboundCond.Broadcast()
	return b
}

// rePrependOutbound pushes unwritten bytes back to the front of the
// outbound buffer after a partial write.
func (ss *sharedState) rePrependOutbound(unwritten []byte) {
	if len(unwritten) == 0 {
		return
	}
	ss.outboundMu.Lock()
	defer ss.outboundMu.Unlock()
	old := ss.outboundBuf.Bytes()
	var combined bytes.Buffer
	combined.Write(unwritten)
	combined.Write(old)
	ss.outboundBuf = combined
}

func (ss *sharedState) currentStream() (transport.Stream, *bufio.Reader) {
	ss.connMu.Lock()
	defer ss.connMu.Unlock()
	return ss.stream, ss.reader
}

func (ss *sharedState) setStream(s transport.Stream, r *bufio.Reader) {
	ss.connMu.Lock()
	ss.stream = s
	ss.reader = r
	ss.connMu.Unlock()
}

// mergeLearned unions newly-advertised connect_urls into the learned
// server list, deduped by URL.
func (ss *sharedState) mergeLearned(urls []string) {
	ss.serversMu.Lock()
	defer ss.serversMu.Unlock()
	existing := make([]*Server, 0, len(ss.learned))
	existing = append(existing, ss.learned...)
	ss.learned = mergeServers(existing, urls)
}

// allServers returns configured followed by every learned server whose URL
// is not already configured, the order the negotiator tries them in on
// reconnect.
func (ss *sharedState) allServers() []*Server {
	ss.serversMu.Lock()
	defer ss.serversMu.Unlock()
	out := make([]*Server, 0, len(ss.configured)+len(ss.learned))
	seen := make(map[string]bool, len(ss.configured))
	for _, s := range ss.configured {
		seen[s.URL] = true
		out = append(out, s)
	}
	for _, s := range ss.learned {
		if !seen[s.URL] {
			out = append(out, s)
		}
	}
	return out
}
