// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/brokerclient/corelink/internal/backoff"
	"github.com/brokerclient/corelink/internal/proto"
	"github.com/brokerclient/corelink/internal/transport"
)

const negotiateTimeout = 2 * time.Second

// handshakeResult is what a successful connect attempt hands back to the
// caller: the live stream, a reader already positioned past INFO/PONG, and
// the decoded ServerInfo.
type handshakeResult struct {
	stream transport.Stream
	reader *bufio.Reader
	info   ServerInfo
	server *Server
}

// negotiate runs Component D: it loops over MaxReconnects rounds of the
// configured server list, applying truncated exponential backoff per
// server, until one address completes the CONNECT/PING/PONG handshake, or
// every attempt has failed, in which case the aggregated error is
// classified Unreachable. shouldStop is polled between rounds and between
// servers within a round so a caller reconnecting in the background (see
// inbound.go's reconnect) can abandon a long, failing sweep once shutdown
// has been requested; pass nil for the initial connect, which has nothing
// to abandon for.
func negotiate(servers []*Server, opts Options, shouldStop func() bool) (*handshakeResult, error) {
	var errs *multierror.Error

	for round := 0; round < opts.MaxReconnects; round++ {
		if shouldStop != nil && shouldStop() {
			return nil, wrapf(ErrShutdown, "reconnect abandoned: shutdown requested")
		}
		for _, srv := range servers {
			if shouldStop != nil && shouldStop() {
				return nil, wrapf(ErrShutdown, "reconnect abandoned: shutdown requested")
			}
			result, err := tryServer(srv, opts)
			if err == nil {
				return result, nil
			}
			errs = multierror.Append(errs, err)
		}
	}

	if errs == nil {
		return nil, wrapf(ErrUnreachable, "no servers configured")
	}
	return nil, wrapf(ErrUnreachable, "%s", errs.Error())
}

func tryServer(srv *Server, opts Options) (*handshakeResult, error) {
	attemptID := uuid.NewString()
	log := opts.Logger.WithFields(logrus.Fields{
		"server":     srv.URL,
		"attempt_id": attemptID,
	})

	addrs, err := resolveAndShuffle(srv.URL)
	if err != nil {
		srv.Reconnects++
		log.WithError(err).Warn("DNS resolution failed")
		return nil, fmt.Errorf("resolve %s: %w", srv.URL, err)
	}

	var lastErr error
	for _, addr := range addrs {
		if wait := backoff.Sleep(opts.Clock, srv.Reconnects); wait > 0 {
			log.WithField("backoff", wait).Debug("backing off before connect attempt")
		}

		result, err := dialAndHandshake(addr, srv, opts, log)
		if err == nil {
			srv.Reconnects = 0
			return result, nil
		}
		lastErr = err
		log.WithError(err).Debug("connect attempt failed")
	}

	srv.Reconnects++
	return nil, lastErr
}

func resolveAndShuffle(url string) ([]string, error) {
	host, port, err := net.SplitHostPort(url)
	if err != nil {
		return nil, err
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(ips))
	for i, ip := range ips {
			addrs[i] = net.JoinHostPort(ip.String(), port)
	}
	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	return addrs, nil
}

func dialAndHandshake(addr string, srv *Server, opts Options, log *logrus.Entry) (*handshakeResult, error) {
	kind := transport.TCP
	if opts.Transport == TransportWebSocket {
		kind = transport.WebSocket
	}

	stream, err := transport.Dial(context.Background(), kind, addr, negotiateTimeout)
	if err != nil {
		return nil, wrapf(ErrUnreachable, "dial %s: %v", addr, err)
	}

	ci := buildConnectInfo(opts, srv.TLSRequired || opts.Secure)
	ciJSON, err := proto.EncodeConnectJSON(ci)
	if err != nil {
		stream.Close()
		return nil, err
	}

	if err := proto.Encode(stream, proto.OpConnect{JSON: ciJSON}); err != nil {
		stream.Close()
		return nil, err
	}
	if err := proto.Encode(stream, proto.OpPingC{}); err != nil {
		stream.Close()
		return nil, err
	}

	reader := bufio.NewReaderSize(stream, 64*1024)

	firstOp, err := proto.Decode(reader)
	if err != nil {
		stream.Close()
		return nil, wrapf(ErrConnectionRefused, "reading INFO: %v", err)
	}
	infoOp, ok := firstOp.(proto.OpInfo)
	if !ok {
		stream.Close()
		return nil, wrapf(ErrConnectionRefused, "expected INFO, got %T", firstOp)
	}

	info, err := decodeServerInfo(infoOp.Raw)
	if err != nil {
		stream.Close()
		return nil, wrapf(ErrInvalidInput, "decoding INFO: %v", err)
	}

	if srv.TLSRequired || info.TLSRequired || opts.Secure {
		host, _, _ := net.SplitHostPort(addr)
		upgraded, err := transport.UpgradeTLS(stream, host)
		if err != nil {
			stream.Close()
			return nil, wrapf(ErrConnectionRefused, "TLS upgrade unsupported: %v", err)
		}
		stream = upgraded
		reader = bufio.NewReaderSize(stream, 64*1024)
	}

	secondOp, err := proto.Decode(reader)
	if err != nil {
		stream.Close()
		return nil, wrapf(ErrConnectionRefused, "reading handshake reply: %v", err)
	}

	switch v := secondOp.(type) {
	case proto.OpPong:
		log.Info("handshake complete")
		return &handshakeResult{stream: stream, reader: reader, info: info, server: srv}, nil
	case proto.OpErr:
		stream.Close()
		return nil, wrapf(ErrConnectionRefused, "%s", v.Message)
	default:
		stream.Close()
		return nil, wrapf(ErrConnectionRefused, "Protocol Error: unexpected %T after INFO", v)
	}
}

func decodeServerInfo(raw []byte) (ServerInfo, error) {
	var extra map[string]interface{}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return ServerInfo{}, err
	}
	var info ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ServerInfo{}, err
	}
	delete(extra, "tls_required")
	delete(extra, "connect_urls")
	info.Extra = extra
	return info, nil
}
