// Copyright 2012 Apcera Inc. All rights reserved.

package proto

import (
	"io"
	"strconv"
)

// ClientOp is one client-originated frame to encode and write to the
// broker.
type ClientOp interface{ isClientOp() }

// OpConnect carries the already-marshaled CONNECT JSON payload.
type OpConnect struct{ JSON []byte }

type OpPub struct {
	Subject string
	ReplyTo string
	Payload []byte
}

type OpSub struct {
	Subject string
	Queue   string
	SID     uint64
}

type OpUnsub struct {
	SID     uint64
	MaxMsgs uint64
	HasMax  bool
}

type OpPingC struct{}
type OpPongC struct{}

func (OpConnect) isClientOp() {}
func (OpPub) isClientOp()     {}
func (OpSub) isClientOp()     {}
func (OpUnsub) isClientOp()   {}
func (OpPingC) isClientOp()   {}
func (OpPongC) isClientOp()   {}

// Encode writes op to w as the wire form described in the encoder table:
// CONNECT/PUB/SUB/UNSUB/PING/PONG, each terminated by CRLF. Encode performs
// no buffering of its own beyond what w already provides.
func Encode(w io.Writer, op ClientOp) error {
	switch v := op.(type) {
	case OpConnect:
		return writeAll(w, "CONNECT ", string(v.JSON), "\r\n")

	case OpPub:
		if v.ReplyTo != "" {
			if err := writeAll(w, "PUB ", v.Subject, " ", v.ReplyTo, " ", strconv.Itoa(len(v.Payload)), "\r\n"); err != nil {
				return err
			}
		} else {
			if err := writeAll(w, "PUB ", v.Subject, " ", strconv.Itoa(len(v.Payload)), "\r\n"); err != nil {
				return err
			}
		}
		if _, err := w.Write(v.Payload); err != nil {
			return err
		}
		return writeAll(w, "\r\n")

	case OpSub:
		if v.Queue != "" {
			return writeAll(w, "SUB ", v.Subject, " ", v.Queue, " ", strconv.FormatUint(v.SID, 10), "\r\n")
		}
		return writeAll(w, "SUB ", v.Subject, " ", strconv.FormatUint(v.SID, 10), "\r\n")

	case OpUnsub:
		if v.HasMax {
			return writeAll(w, "UNSUB ", strconv.FormatUint(v.SID, 10), " ", strconv.FormatUint(v.MaxMsgs, 10), "\r\n")
		}
		return writeAll(w, "UNSUB ", strconv.FormatUint(v.SID, 10), "\r\n")

	case OpPingC:
		return writeAll(w, "PING\r\n")

	case OpPongC:
		return writeAll(w, "PONG\r\n")

	default:
		return nil
	}
}

func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// EncodeConnectJSON marshals v (expected to be a CONNECT-shaped struct) to
// JSON using the json-iterator codec configured to match encoding/json.
func EncodeConnectJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
