package dispatch

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/backend/memory"
	"github.com/obos-dev/obos-aud/internal/mixer"
	"github.com/obos-dev/obos-aud/internal/wire"
)

// testServer wires a Dispatcher to a loopback listener for end-to-end
// exercising of the opcode handler table (spec §8's scenarios).
type testServer struct {
	d    *Dispatcher
	ln   net.Listener
	stop chan struct{}
}

func newTestServer(t *testing.T, outputChannels int) *testServer {
	t.Helper()
	be := memory.New([]backend.Device{{ID: 1, Type: backend.OutputTypeSpeaker}})
	require.NoError(t, be.Initialize())
	require.NoError(t, be.Configure(1, 8000, outputChannels, 16))

	out := mixer.New(1, be, 8000, outputChannels, nil)
	go out.Run()
	t.Cleanup(out.Stop)

	d := New(
		map[uint16]*mixer.Output{1: out},
		map[uint16]backend.Device{1: {ID: 1, Type: backend.OutputTypeSpeaker}},
		1,
		"",
		nil,
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stop := make(chan struct{})
	go d.Run(stop)
	go d.Serve(ln)
	t.Cleanup(func() {
		close(stop)
		ln.Close()
	})

	return &testServer{d: d, ln: ln, stop: stop}
}

func (s *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func transmit(t *testing.T, conn net.Conn, pk *wire.Packet) uint32 {
	t.Helper()
	id, err := wire.Transmit(conn, pk, wire.NewIDGenerator())
	require.NoError(t, err)
	return id
}

func receive(t *testing.T, conn net.Conn) *wire.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pk, err := wire.Receive(conn)
	require.NoError(t, err)
	return pk
}

func TestConnectNOPDisconnect(t *testing.T) {
	s := newTestServer(t, 1)
	conn := s.dial(t)

	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	initReply := receive(t, conn)
	require.Equal(t, wire.OpInitialConnectionReply, initReply.Opcode)
	parsed, err := wire.UnmarshalInitialConnectionReply(initReply.Payload)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, parsed.ClientID, uint32(1))

	nopID := transmit(t, conn, &wire.Packet{Opcode: wire.OpNOP})
	nopReply := receive(t, conn)
	assert.Equal(t, wire.OpStatusReplyOK, nopReply.Opcode)
	assert.Equal(t, nopID, nopReply.TransmissionID)

	transmit(t, conn, &wire.Packet{Opcode: wire.OpDisconnectRequest})
	discReply := receive(t, conn)
	assert.Equal(t, wire.OpStatusReplyDisconnected, discReply.Opcode)
}

func TestOpenAndCloseStream(t *testing.T) {
	s := newTestServer(t, 2)
	conn := s.dial(t)
	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn)

	transmit(t, conn, &wire.Packet{
		Opcode: wire.OpOpenStream,
		Payload: wire.OpenStreamPayload{
			OutputID: wire.DefaultOutputID, TargetSampleRate: 44100, InputChannels: 2, Volume: 100,
		}.Marshal(),
	})
	openReply := receive(t, conn)
	require.Equal(t, wire.OpOpenStreamReply, openReply.Opcode)
	streamID, err := wire.UnmarshalOpenStreamReply(openReply.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 1, streamID)

	transmit(t, conn, &wire.Packet{Opcode: wire.OpCloseStream, Payload: wire.MarshalCloseStreamPayload(streamID)})
	closeReply := receive(t, conn)
	assert.Equal(t, wire.OpStatusReplyOK, closeReply.Opcode)
}

func TestBadMagicClosesSocketAndRemovesConnection(t *testing.T) {
	s := newTestServer(t, 1)
	conn := s.dial(t)
	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn)
	require.Equal(t, 1, s.d.ConnectionCount())

	_, err := conn.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x00, 24, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.d.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnexpectedOpcodeBeforeInitialDisconnects(t *testing.T) {
	s := newTestServer(t, 1)
	conn := s.dial(t)

	transmit(t, conn, &wire.Packet{Opcode: wire.OpNOP})
	reply := receive(t, conn)
	assert.Equal(t, wire.OpStatusReplyDisconnected, reply.Opcode)
}

func TestSetNameThenQueryConnectionsFromAnotherClient(t *testing.T) {
	s := newTestServer(t, 1)
	conn1 := s.dial(t)
	transmit(t, conn1, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn1)

	transmit(t, conn1, &wire.Packet{Opcode: wire.OpSetName, Payload: []byte("alpha")})
	nameReply := receive(t, conn1)
	assert.Equal(t, wire.OpStatusReplyOK, nameReply.Opcode)

	conn2 := s.dial(t)
	transmit(t, conn2, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn2)

	transmit(t, conn2, &wire.Packet{Opcode: wire.OpQueryConnections})
	queryReply := receive(t, conn2)
	require.Equal(t, wire.OpQueryConnectionsReply, queryReply.Opcode)

	descs, err := wire.UnmarshalQueryConnectionsReply(queryReply.Payload)
	require.NoError(t, err)
	var found bool
	for _, d := range descs {
		if d.Name == "alpha" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOutputIDZeroFFFFResolvesToDefault(t *testing.T) {
	s := newTestServer(t, 1)
	conn := s.dial(t)
	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn)

	transmit(t, conn, &wire.Packet{
		Opcode:  wire.OpQueryOutputDevice,
		Payload: wire.MarshalQueryOutputDevicePayload(wire.DefaultOutputID),
	})
	reply := receive(t, conn)
	require.Equal(t, wire.OpQueryOutputDeviceReply, reply.Opcode)
	dev, err := wire.UnmarshalQueryOutputDeviceReply(reply.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dev.OutputID)
	assert.NotZero(t, dev.Flags&wire.OutputFlagDefault)
}

func TestInvalidPayloadLengthRepliesInval(t *testing.T) {
	s := newTestServer(t, 1)
	conn := s.dial(t)
	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn)

	transmit(t, conn, &wire.Packet{Opcode: wire.OpNOP, Payload: []byte{1, 2, 3}})
	reply := receive(t, conn)
	assert.Equal(t, wire.OpStatusReplyInval, reply.Opcode)
}

func TestQueryConnectionsLogsStrftimeFormattedLoginTime(t *testing.T) {
	be := memory.New([]backend.Device{{ID: 1, Type: backend.OutputTypeSpeaker}})
	require.NoError(t, be.Initialize())
	require.NoError(t, be.Configure(1, 8000, 1, 16))
	out := mixer.New(1, be, 8000, 1, nil)
	go out.Run()
	t.Cleanup(out.Stop)

	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)

	d := New(
		map[uint16]*mixer.Output{1: out},
		map[uint16]backend.Device{1: {ID: 1, Type: backend.OutputTypeSpeaker}},
		1,
		"%Y-%m-%d",
		logger,
	)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	stop := make(chan struct{})
	go d.Run(stop)
	go d.Serve(ln)
	t.Cleanup(func() { close(stop); ln.Close() })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn)

	transmit(t, conn, &wire.Packet{Opcode: wire.OpQueryConnections})
	reply := receive(t, conn)
	require.Equal(t, wire.OpQueryConnectionsReply, reply.Opcode)

	assert.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("login_time"))
	}, time.Second, 10*time.Millisecond)
}

func TestStreamIDOverflowRefusesNewOpens(t *testing.T) {
	s := newTestServer(t, 1)
	conn := s.dial(t)
	transmit(t, conn, &wire.Packet{Opcode: wire.OpInitialConnectionRequest})
	receive(t, conn)

	clientConn, ok := s.d.lookupConnection(1)
	require.True(t, ok)
	clientConn.mu.Lock()
	clientConn.nextStreamID = 0
	clientConn.mu.Unlock()

	transmit(t, conn, &wire.Packet{
		Opcode: wire.OpOpenStream,
		Payload: wire.OpenStreamPayload{
			OutputID: wire.DefaultOutputID, TargetSampleRate: 8000, InputChannels: 1, Volume: 100,
		}.Marshal(),
	})
	reply := receive(t, conn)
	assert.Equal(t, wire.OpStatusReplyUnsupported, reply.Opcode)
}
