// Copyright 2012 Apcera Inc. All rights reserved.

package corelink

import (
	"encoding/json"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo follows a default-true, omitted-when-true convention: the opposite
// of Go's usual omitempty-on-zero-value behavior.
func TestConnectInfoEchoOmittedOnlyWhenTrue(t *testing.T) {
	withEcho := buildConnectInfo(Options{}, false)
	withEcho.Echo = true
	b, err := withEcho.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"echo"`, "echo true must be omitted: %s", spew.Sdump(withEcho))

	noEcho := buildConnectInfo(NewOptions(WithNoEcho()), false)
	b, err = noEcho.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"echo":false`)
}

func TestBuildConnectInfoAuthVariants(t *testing.T) {
	up := buildConnectInfo(NewOptions(WithUserPass("u", "p")), true)
	assert.Equal(t, "u", up.User)
	assert.Equal(t, "p", up.Pass)
	assert.True(t, up.TLSRequired)

	tok := buildConnectInfo(NewOptions(WithToken("tkn")), false)
	assert.Equal(t, "tkn", tok.AuthToken)
	assert.Empty(t, tok.User)
}

// ServerInfo.Extra preserves every field the server sent that this core
// doesn't model directly, while TLSRequired/ConnectURLs are still parsed.
func TestServerInfoExtraPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"tls_required":true,"connect_urls":["a:1"],"server_id":"abc","max_payload":1048576}`)
	info, err := decodeServerInfo(raw)
	require.NoError(t, err)

	assert.True(t, info.TLSRequired)
	assert.Equal(t, []string{"a:1"}, info.ConnectURLs)

	want := map[string]interface{}{"server_id": "abc", "max_payload": float64(1048576)}
	if diff := cmp.Diff(want, info.Extra); diff != "" {
		t.Fatalf("Extra mismatch (-want +got):\n%s", diff)
	}

	type extension struct {
		ServerID   string `mapstructure:"server_id"`
		MaxPayload int    `mapstructure:"max_payload"`
	}
	var ext extension
	require.NoError(t, info.DecodeExtra(&ext))
	assert.Equal(t, "abc", ext.ServerID)
	assert.Equal(t, 1048576, ext.MaxPayload)
}

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Reconnecting: "reconnecting",
		Closed:       "closed",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestJSONCodecMatchesStandardLibrary(t *testing.T) {
	ci := buildConnectInfo(NewOptions(WithName("n")), true)
	got, err := ci.MarshalJSON()
	require.NoError(t, err)

	var viaStdlib map[string]interface{}
	require.NoError(t, json.Unmarshal(got, &viaStdlib))
	assert.Equal(t, "n", viaStdlib["name"])
	assert.Equal(t, true, viaStdlib["tls_required"])
}
