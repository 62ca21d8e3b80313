// Copyright 2012 Apcera Inc. All rights reserved.

// Package proto implements the wire codec: decoding the six
// server-originated frame kinds from a buffered byte stream, and encoding
// the six client-originated frame kinds to bytes.
package proto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerOp is one decoded server-originated frame.
type ServerOp interface{ isServerOp() }

type OpPing struct{}
type OpPong struct{}

// OpInfo carries the raw INFO JSON payload; the caller decodes it into
// whatever ServerInfo shape it uses.
type OpInfo struct{ Raw []byte }

// OpErr carries the -ERR message with surrounding whitespace and a single
// pair of leading/trailing apostrophes stripped.
type OpErr struct{ Message string }

// OpMsg carries one decoded MSG frame, including its payload.
type OpMsg struct {
	Subject string
	SID     uint64
	ReplyTo string
	HasReply bool
	Payload []byte
}

// OpUnknown carries a raw line this decoder didn't recognize, forwarded
// for logging rather than treated as an error.
type OpUnknown struct{ Raw string }

func (OpPing) isServerOp()    {}
func (OpPong) isServerOp()    {}
func (OpInfo) isServerOp()    {}
func (OpErr) isServerOp()     {}
func (OpMsg) isServerOp()     {}
func (OpUnknown) isServerOp() {}

// ErrStreamClosed is returned by Decode when the underlying reader hit EOF
// with no bytes read — the stream has closed.
var ErrStreamClosed = io.EOF

// Decode reads exactly one frame from r and returns the corresponding
// ServerOp. It returns ErrStreamClosed when the stream is closed, and an
// error wrapping InvalidInput-class failures for any malformed frame.
func Decode(r *bufio.Reader) (ServerOp, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if len(line) == 0 {
			return nil, ErrStreamClosed
		}
		if err == io.EOF {
			return nil, invalidInput("truncated line %q", line)
		}
		return nil, err
	}

	trimmed := strings.TrimRight(line, "\r\n")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return OpUnknown{Raw: trimmed}, nil
	}

	verb := strings.ToUpper(fields[0])
	switch verb {
	case "PING":
		return OpPing{}, nil
	case "PONG":
		return OpPong{}, nil
	case "INFO":
		rest := strings.TrimSpace(trimmed[len(fields[0]):])
		return OpInfo{Raw: []byte(rest)}, nil
	case "-ERR":
		msg := strings.TrimSpace(trimmed[len(fields[0]):])
		msg = stripOuterQuotePair(msg)
		return OpErr{Message: msg}, nil
	case "MSG":
		return decodeMsg(r, trimmed, fields[1:])
	default:
		return OpUnknown{Raw: trimmed}, nil
	}
}

// stripOuterQuotePair removes exactly one leading and one trailing
// apostrophe, if both are present. An inner run of quotes (e.g. ''Foo'')
// is left alone beyond that single pair.
func stripOuterQuotePair(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		return s[1 : len(s)-1]
	}
	return s
}

func decodeMsg(r *bufio.Reader, rawLine string, args []string) (ServerOp, error) {
	var subject, replyTo, nBytesStr string
	var hasReply bool

	switch len(args) {
	case 3:
		subject, nBytesStr = args[0], args[2]
	case 4:
		subject, replyTo, nBytesStr = args[0], args[2], args[3]
		hasReply = true
	default:
		return nil, invalidInput("MSG: expected 3 or 4 arguments, got %d", len(args))
	}

	sid, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return nil, invalidInput("MSG: invalid sid %q", args[1])
	}

	nBytes, err := strconv.ParseUint(nBytesStr, 10, 32)
	if err != nil {
		return nil, invalidInput("MSG: invalid byte count %q", nBytesStr)
	}

	payload := make([]byte, nBytes)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, invalidInput("MSG: short payload read: %v", err)
	}
	var crlf [2]byte
	if _, err := io.ReadFull(r, crlf[:]); err != nil {
		return nil, invalidInput("MSG: short trailing CRLF read: %v", err)
	}
	// crlf is consumed but intentionally not validated, per the wire
	// contract: a MSG frame's trailing CRLF is structural, not checked.

	return OpMsg{
		Subject:  subject,
		SID:      sid,
		ReplyTo:  replyTo,
		HasReply: hasReply,
		Payload:  payload,
	}, nil
}

func invalidInput(format string, args ...interface{}) error {
	return &DecodeError{msg: fmt.Sprintf(format, args...)}
}

// DecodeError marks a malformed frame. Callers that need to distinguish
// InvalidInput from a plain I/O error can type-assert for *DecodeError.
type DecodeError struct{ msg string }

func (e *DecodeError) Error() string { return "proto: invalid input: " + e.msg }
