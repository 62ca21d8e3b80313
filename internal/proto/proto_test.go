// Copyright 2012 Apcera Inc. All rights reserved.

package proto

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S2: MSG decode without a reply-to.
func TestDecodeMsgNoReply(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("MSG foo.bar 7 3\r\nhi!\r\n"))
	op, err := Decode(r)
	require.NoError(t, err)

	msg, ok := op.(OpMsg)
	require.True(t, ok)
	assert.Equal(t, "foo.bar", msg.Subject)
	assert.Equal(t, uint64(7), msg.SID)
	assert.False(t, msg.HasReply)
	assert.Equal(t, "hi!", string(msg.Payload))
}

// S3: MSG decode with a reply-to and empty payload.
func TestDecodeMsgWithReply(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("MSG x 1 inbox.9 0\r\n\r\n"))
	op, err := Decode(r)
	require.NoError(t, err)

	msg, ok := op.(OpMsg)
	require.True(t, ok)
	assert.Equal(t, "x", msg.Subject)
	assert.Equal(t, uint64(1), msg.SID)
	assert.True(t, msg.HasReply)
	assert.Equal(t, "inbox.9", msg.ReplyTo)
	assert.Equal(t, "", string(msg.Payload))
}

func TestDecodeMsgBadArgCount(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("MSG only.two.args 7\r\n"))
	_, err := Decode(r)
	require.Error(t, err)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestDecodePingPong(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("PING\r\nPONG\r\nping\r\n"))
	op, err := Decode(r)
	require.NoError(t, err)
	assert.IsType(t, OpPing{}, op)

	op, err = Decode(r)
	require.NoError(t, err)
	assert.IsType(t, OpPong{}, op)

	// Verb dispatch is case-insensitive.
	op, err = Decode(r)
	require.NoError(t, err)
	assert.IsType(t, OpPing{}, op)
}

func TestDecodeInfo(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString(`INFO {"tls_required":false,"connect_urls":["a:1"]}` + "\r\n"))
	op, err := Decode(r)
	require.NoError(t, err)
	info, ok := op.(OpInfo)
	require.True(t, ok)
	assert.Contains(t, string(info.Raw), "tls_required")
}

func TestDecodeErrStripsQuotesAndWhitespace(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("-ERR  'Authorization Violation'  \r\n"))
	op, err := Decode(r)
	require.NoError(t, err)
	e, ok := op.(OpErr)
	require.True(t, ok)
	assert.Equal(t, "Authorization Violation", e.Message)
}

// Only a single leading/trailing apostrophe pair is stripped, not every
// apostrophe run.
func TestDecodeErrStripsOnlyOneQuotePair(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("-ERR ''Foo''\r\n"))
	op, err := Decode(r)
	require.NoError(t, err)
	e, ok := op.(OpErr)
	require.True(t, ok)
	assert.Equal(t, "'Foo'", e.Message)
}

func TestDecodeUnknown(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("FROBNICATE 1 2 3\r\n"))
	op, err := Decode(r)
	require.NoError(t, err)
	u, ok := op.(OpUnknown)
	require.True(t, ok)
	assert.Contains(t, u.Raw, "FROBNICATE")
}

func TestDecodeStreamClosed(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader(nil))
	_, err := Decode(r)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

// Decoder robustness: any truncation strictly inside the payload/CRLF of a
// valid MSG frame must fail rather than silently return a wrong frame.
func TestDecodeMsgTruncatedPayload(t *testing.T) {
	full := "MSG foo 1 5\r\nhello\r\n"
	for cut := len("MSG foo 1 5\r\n"); cut < len(full); cut++ {
		r := bufio.NewReader(bytes.NewBufferString(full[:cut]))
		_, err := Decode(r)
		require.Error(t, err, "truncation at %d should fail, not return a frame", cut)
		var de *DecodeError
		assert.ErrorAs(t, err, &de, "truncation at %d should be an InvalidInput-class error", cut)
	}
}

// S4: PUB encode with a reply-to.
func TestEncodePubWithReply(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, OpPub{Subject: "a", ReplyTo: "r", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "PUB a r 2\r\nhi\r\n", buf.String())
}

func TestEncodePubNoReply(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, OpPub{Subject: "a", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "PUB a 2\r\nhi\r\n", buf.String())
}

func TestEncodeSub(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, OpSub{Subject: "foo", SID: 42}))
	assert.Equal(t, "SUB foo 42\r\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, OpSub{Subject: "foo", Queue: "q1", SID: 42}))
	assert.Equal(t, "SUB foo q1 42\r\n", buf.String())
}

func TestEncodeUnsub(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, OpUnsub{SID: 7}))
	assert.Equal(t, "UNSUB 7\r\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, OpUnsub{SID: 7, MaxMsgs: 3, HasMax: true}))
	assert.Equal(t, "UNSUB 7 3\r\n", buf.String())
}

func TestEncodePingPong(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, OpPingC{}))
	assert.Equal(t, "PING\r\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, OpPongC{}))
	assert.Equal(t, "PONG\r\n", buf.String())
}

// Codec round-trip: encoding a PUB then decoding it back as the MSG frame
// a broker would deliver to a subscriber yields the same subject/payload.
func TestRoundTripPubAsMsg(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, OpPub{Subject: "a.b", ReplyTo: "r.c", Payload: []byte("payload")}))

	// Reinterpret the PUB wire bytes as what a broker would reframe into
	// a MSG to a subscriber (same subject/reply/payload grammar, sid
	// substituted for the missing bit the broker adds).
	line := "MSG a.b 99 r.c 7\r\n"
	rest := buf.String()
	rest = rest[len("PUB a.b r.c 7\r\n"):]
	r := bufio.NewReader(io.MultiReader(bytes.NewBufferString(line), bytes.NewBufferString(rest)))

	op, err := Decode(r)
	require.NoError(t, err)
	msg := op.(OpMsg)
	assert.Equal(t, "a.b", msg.Subject)
	assert.Equal(t, "r.c", msg.ReplyTo)
	assert.Equal(t, "payload", string(msg.Payload))
}
