// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"math/rand"
	"strconv"
	"strings"
)

// DefaultPort is the broker port assumed when a URL omits one.
const DefaultPort = 4222

// Server is one configured or learned broker endpoint.
type Server struct {
	URL         string
	TLSRequired bool
	Reconnects  uint32
}

// ParseServers parses each element of urls into a Server record. A comma
// inside any element is rejected — callers must split comma-separated
// lists themselves before calling ParseServers. The returned slice is
// shuffled uniformly at random so that repeated clients starting from the
// same list don't all dial servers in the same order.
func ParseServers(urls []string) ([]*Server, error) {
	servers := make([]*Server, 0, len(urls))
	for _, u := range urls {
		s, err := parseServer(u)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	rand.Shuffle(len(servers), func(i, j int) {
		servers[i], servers[j] = servers[j], servers[i]
	})
	return servers, nil
}

func parseServer(input string) (*Server, error) {
	if strings.Contains(input, ",") {
		return nil, wrapf(ErrInvalidInput, "server URL %q contains a comma; split before parsing", input)
	}

	tlsRequired := false
	hostPort := input
	if idx := strings.Index(input, "://"); idx >= 0 {
		scheme := input[:idx]
		tlsRequired = scheme == "tls"
		hostPort = input[idx+len("://"):]
	}

	host, portStr, hasPort := strings.Cut(hostPort, ":")
	if host == "" {
		return nil, wrapf(ErrInvalidInput, "invalid URL %q: empty host", input)
	}

	port := DefaultPort
	if hasPort {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, wrapf(ErrInvalidInput, "invalid URL %q: port %q is not an integer", input, portStr)
		}
		port = p
	}

	return &Server{
		URL:         host + ":" + strconv.Itoa(port),
		TLSRequired: tlsRequired,
		Reconnects:  0,
	}, nil
}

// mergeServers appends any url from learned not already present (by URL) in
// configured, preserving configured's order and returning a new slice.
// This implements the union-with-dedup policy recommended for merging a
// server's advertised connect_urls into the known-servers list.
func mergeServers(configured []*Server, learned []string) []*Server {
	seen := make(map[string]bool, len(configured))
	for _, s := range configured {
		seen[s.URL] = true
	}
	merged := configured
	for _, u := range learned {
		s, err := parseServer(u)
		if err != nil {
			continue
		}
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		merged = append(merged, s)
	}
	return merged
}
