// Package testclient is a minimal in-process client used by
// internal/server's end-to-end tests. It is not a shipped CLI -- the
// spec explicitly keeps a full audctl-style tool out of scope -- but the
// request/reply operations it exercises are the same ones a real client
// library would use.
//
// Grounded on the teacher's aclients.go ("establish connection with
// multiple servers, read packets, display results") generalized from a
// standalone multi-TNC comparison program into a reusable test helper,
// and on the original's autrans_make_name, whose "<name> <pid>"
// convention this package's MakeName reproduces.
package testclient

import (
	"net"
	"os"
	"strconv"

	"github.com/obos-dev/obos-aud/internal/wire"
)

// MakeName composes a connection name the way the original client
// library's autrans_make_name does: the caller-supplied base name
// followed by the process id, so concurrent test clients are
// distinguishable in a QUERY_CONNECTIONS_REPLY.
func MakeName(base string) string {
	return base + " " + strconv.Itoa(os.Getpid())
}

// Client is a thin wire-protocol client: dial, send a request, read the
// next frame, repeat.
type Client struct {
	Conn     net.Conn
	ClientID uint32
	Outputs  []uint16
	ids      *wire.IDGenerator
}

// Dial connects to uri (spec §6.2's `tcp:HOST[:PORT]` / `unix:PATH_OR_INDEX`
// forms) but does not perform the INITIAL_CONNECTION_REQUEST handshake;
// call Connect for that.
func Dial(uri string) (*Client, error) {
	network, address, err := wire.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return &Client{Conn: conn, ids: wire.NewIDGenerator()}, nil
}

// Connect performs the mandatory INITIAL_CONNECTION_REQUEST handshake
// every connection must start with (spec §4.5).
func (c *Client) Connect() error {
	if _, err := c.Transmit(wire.OpInitialConnectionRequest, nil); err != nil {
		return err
	}
	reply, err := c.Receive()
	if err != nil {
		return err
	}
	parsed, err := wire.UnmarshalInitialConnectionReply(reply.Payload)
	if err != nil {
		return err
	}
	c.ClientID = parsed.ClientID
	c.Outputs = parsed.OutputIDs
	return nil
}

// Transmit sends a request frame with a freshly-minted transmission id,
// returning that id so the caller can correlate the reply.
func (c *Client) Transmit(opcode wire.Opcode, payload []byte) (uint32, error) {
	return wire.Transmit(c.Conn, &wire.Packet{Opcode: opcode, Payload: payload}, c.ids)
}

// Receive reads the next frame from the server.
func (c *Client) Receive() (*wire.Packet, error) {
	return wire.Receive(c.Conn)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.Conn.Close()
}
