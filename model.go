// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"github.com/mitchellh/mapstructure"

	jsoniter "github.com/json-iterator/go"
)

// json is the json-iterator codec configured to match encoding/json field
// semantics exactly, used for every CONNECT/INFO frame payload.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SID is a client-local subscription identifier, monotonically allocated
// for the lifetime of a single Core.
type SID uint64

// Message is a single inbound delivery handed to a subscription's Sink.
type Message struct {
	Subject string
	SID     SID
	ReplyTo string
	Payload []byte
}

// Sink is a bounded, non-blocking delivery target owned by the caller's
// subscription handle. The core writes to it and never closes it; a full
// or closed Sink causes the inbound worker to drop the message.
type Sink interface {
	// TrySend attempts a non-blocking delivery. It returns false if the
	// sink is full or closed, in which case the message is dropped.
	TrySend(m Message) bool
}

// SubscriptionState is the core's record of one active subscription.
type SubscriptionState struct {
	Subject string
	Queue   string
	Sink    Sink
}

// ConnectionStatus enumerates the lifecycle states of a Core's link to the
// broker. Closed is the only terminal state.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerInfo is the opaque structured record the broker returns at connect
// time. TLSRequired and ConnectURLs are the only fields this core relies
// on; everything else the server sent is preserved verbatim in Extra and
// can be decoded into a typed extension on demand with DecodeExtra.
type ServerInfo struct {
	TLSRequired bool     `json:"tls_required"`
	ConnectURLs []string `json:"connect_urls"`
	Extra       map[string]interface{} `json:"-"`
}

// DecodeExtra decodes ServerInfo.Extra into out, which should be a pointer
// to a struct tagged for mapstructure. Unknown fields that don't map to
// out are silently ignored, matching the "preserved verbatim" contract:
// nothing in Extra is lost by decoding, only projected.
func (si ServerInfo) DecodeExtra(out interface{}) error {
	return mapstructure.Decode(si.Extra, out)
}

// connectInfo is the CONNECT frame payload sent by the client, encoded as
// JSON with empty/default fields omitted per the wire contract in §6.
//
// echo follows a default-true convention: it is only written when false,
// the opposite of Go's usual omitempty-on-zero-value behavior, so it is
// marshaled by hand in MarshalJSON rather than via a struct tag.
type connectInfo struct {
	Name        string `json:"name,omitempty"`
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	Echo        bool   `json:"-"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	TLSRequired bool   `json:"tls_required"`
	User        string `json:"user,omitempty"`
	Pass        string `json:"pass,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
}

// MarshalJSON implements the default-true omission rule for Echo.
func (c connectInfo) MarshalJSON() ([]byte, error) {
	type alias connectInfo
	if !c.Echo {
		return json.Marshal(struct {
			alias
			Echo bool `json:"echo"`
		}{alias(c), false})
	}
	return json.Marshal(alias(c))
}

func buildConnectInfo(opts Options, tlsRequired bool) connectInfo {
	ci := connectInfo{
		Name:        opts.Name,
		Verbose:     opts.Verbose,
		Pedantic:    false,
		Echo:        !opts.NoEcho,
		Lang:        Lang,
		Version:     Version,
		TLSRequired: tlsRequired,
	}
	switch opts.Auth.Style {
	case AuthUserPass:
		ci.User = opts.Auth.User
		ci.Pass = opts.Auth.Pass
	case AuthToken:
		ci.AuthToken = opts.Auth.Token
	}
	return ci
}
