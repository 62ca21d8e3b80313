// Copyright 2012 Apcera Inc. All rights reserved.

// Package discovery implements Component H: an optional DNS SRV lookup
// that seeds additional broker URLs before the URL parser runs. It never
// replaces the configured URL list, only appends to it.
package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const dnsTimeout = 2 * time.Second

// LookupSRV resolves the SRV records for service/proto/domain (e.g.
// "nats", "tcp", "example.com") and returns "host:port" strings in the
// priority/weight order the server returned them. An empty result is not
// an error — it just means no peers were advertised this way.
func LookupSRV(service, proto, domain string) ([]string, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return nil, fmt.Errorf("discovery: no resolver configured: %w", err)
	}

	client := &dns.Client{Timeout: dnsTimeout}
	name := dns.Fqdn(fmt.Sprintf("_%s._%s.%s", service, proto, domain))

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeSRV)

	server := conf.Servers[0] + ":" + conf.Port
	resp, _, err := client.Exchange(msg, server)
	if err != nil {
		return nil, fmt.Errorf("discovery: SRV lookup for %s failed: %w", name, err)
	}

	urls := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(srv.Target, ".")
		urls = append(urls, fmt.Sprintf("%s:%d", host, srv.Port))
	}
	return urls, nil
}
