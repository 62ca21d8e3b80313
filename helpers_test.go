// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
)

// runServerOnPort starts an embedded broker on port (-1 picks a free one),
// mirroring the teacher's service/test helper of the same shape.
func runServerOnPort(port int) *server.Server {
	opts := natsserver.DefaultTestOptions
	opts.Port = port
	opts.NoLog = true
	opts.NoSigs = true
	return natsserver.RunServer(&opts)
}
