// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Transport selects the wire transport used by the connection negotiator.
type Transport int

const (
	// TransportTCP dials a raw TCP socket, optionally upgraded to TLS.
	TransportTCP Transport = iota
	// TransportWebSocket dials over a WebSocket connection instead.
	TransportWebSocket
)

// AuthStyle names one of the three CONNECT auth shapes this core supports.
// Structured auth beyond these three (e.g. nonce-signing) is out of scope.
type AuthStyle int

const (
	AuthNone AuthStyle = iota
	AuthUserPass
	AuthToken
)

// Auth carries the credentials for whichever AuthStyle is selected. Only
// the fields relevant to Style are read.
type Auth struct {
	Style AuthStyle
	User  string
	Pass  string
	Token string
}

const (
	// DefaultMaxReconnects is the default number of rounds through the
	// configured server list before a connect attempt gives up.
	DefaultMaxReconnects = 5
	// DefaultPingInterval is the default period between keep-alive pings
	// sent by the outbound worker.
	DefaultPingInterval = 2 * time.Minute
	// DefaultMaxOutstandingPings is the default number of un-acked pings
	// tolerated before a connection is declared dead.
	DefaultMaxOutstandingPings = 2
	// DefaultReconnectBufferSize is the default soft cap, in bytes, on the
	// outbound buffer while the connection is down.
	DefaultReconnectBufferSize = 8 * 1024 * 1024

	// Lang and Version are reported verbatim in every CONNECT frame.
	Lang    = "go"
	Version = "1.0.0"
)

// Options configures a Core. Construct one with NewOptions and apply
// functional Option values, the same convention the teacher's jsv2/jetstream
// subpackage uses for JetStreamOpt.
type Options struct {
	Name    string
	NoEcho  bool
	Auth    Auth
	Secure  bool // client requests TLS even if the server doesn't demand it
	Verbose bool

	MaxReconnects       int
	PingInterval        time.Duration
	MaxOutstandingPings int
	ReconnectBufferSize int

	// SRVDiscovery and SRVDomain configure Component H: an optional DNS
	// SRV lookup run before ParseServers to append discovered peers to
	// the configured URL list.
	SRVDiscovery bool
	SRVDomain    string

	// Transport selects the dialer used by the negotiator.
	Transport Transport

	// Clock backs the negotiator's backoff sleep and the outbound
	// worker's ping-interval ticker. Defaults to the real clock;
	// tests substitute a clockwork.FakeClock for determinism.
	Clock clockwork.Clock

	// Logger receives structured log entries for connect/reconnect/
	// shutdown transitions and dropped-frame warnings. Defaults to a
	// logrus.Logger writing to stderr.
	Logger *logrus.Logger
}

// Option mutates an Options value during construction.
type Option func(*Options)

// NewOptions returns an Options populated with every documented default.
func NewOptions(opts ...Option) Options {
	o := Options{
		MaxReconnects:       DefaultMaxReconnects,
		PingInterval:        DefaultPingInterval,
		MaxOutstandingPings: DefaultMaxOutstandingPings,
		ReconnectBufferSize: DefaultReconnectBufferSize,
		Clock:               clockwork.NewRealClock(),
		Logger:              defaultLogger(),
	}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func WithNoEcho() Option {
	return func(o *Options) { o.NoEcho = true }
}

// WithSecure requests a TLS upgrade even if neither the configured server
// URL nor the server's INFO advertises tls_required.
func WithSecure() Option {
	return func(o *Options) { o.Secure = true }
}

func WithUserPass(user, pass string) Option {
	return func(o *Options) { o.Auth = Auth{Style: AuthUserPass, User: user, Pass: pass} }
}

func WithToken(token string) Option {
	return func(o *Options) { o.Auth = Auth{Style: AuthToken, Token: token} }
}

func WithMaxReconnects(n int) Option {
	return func(o *Options) { o.MaxReconnects = n }
}

func WithPingInterval(d time.Duration) Option {
	return func(o *Options) { o.PingInterval = d }
}

func WithMaxOutstandingPings(n int) Option {
	return func(o *Options) { o.MaxOutstandingPings = n }
}

func WithReconnectBufferSize(n int) Option {
	return func(o *Options) { o.ReconnectBufferSize = n }
}

func WithSRVDiscovery(domain string) Option {
	return func(o *Options) {
		o.SRVDiscovery = true
		o.SRVDomain = domain
	}
}

func WithTransport(t Transport) Option {
	return func(o *Options) { o.Transport = t }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// withDefaults fills in any zero-value field left by a caller that built
// an Options literal directly instead of going through NewOptions.
func (o Options) withDefaults() Options {
	if o.MaxReconnects == 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	if o.PingInterval == 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.MaxOutstandingPings == 0 {
		o.MaxOutstandingPings = DefaultMaxOutstandingPings
	}
	if o.ReconnectBufferSize == 0 {
		o.ReconnectBufferSize = DefaultReconnectBufferSize
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
	return o
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}
