package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURITCPAddsDefaultPort(t *testing.T) {
	network, address, err := ParseURI("tcp:example.com")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "example.com:44630", address)
}

func TestParseURITCPKeepsExplicitPort(t *testing.T) {
	_, address, err := ParseURI("tcp:example.com:9000")
	require.NoError(t, err)
	assert.Equal(t, "example.com:9000", address)
}

func TestParseURIUnixIndexResolvesToSocketDir(t *testing.T) {
	network, address, err := ParseURI("unix:0")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/.obos-aud/U0", address)
}

func TestParseURIUnixPathIsUsedVerbatim(t *testing.T) {
	_, address, err := ParseURI("unix:/var/run/obos-aud.sock")
	require.NoError(t, err)
	assert.Equal(t, "/var/run/obos-aud.sock", address)
}

func TestParseURIRejectsUnknownScheme(t *testing.T) {
	_, _, err := ParseURI("udp:example.com")
	assert.Error(t, err)
}
