package server

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/backend/memory"
	"github.com/obos-dev/obos-aud/internal/testclient"
	"github.com/obos-dev/obos-aud/internal/wire"
)

func newTestBackend(t *testing.T, devices ...backend.Device) *memory.Backend {
	t.Helper()
	return memory.New(devices)
}

func startServer(t *testing.T, be backend.Backend) (*Server, net.Listener) {
	t.Helper()
	s, err := New(be, "", nil)
	require.NoError(t, err)
	s.Start()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)

	t.Cleanup(func() {
		s.Shutdown()
		ln.Close()
	})
	return s, ln
}

func dialAndConnect(t *testing.T, ln net.Listener) *testclient.Client {
	t.Helper()
	c, err := testclient.Dial("tcp:" + ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestChooseDefaultPrefersSpeakerOverLineOut(t *testing.T) {
	devices := []backend.Device{
		{ID: 1, Type: backend.OutputTypeLineOut},
		{ID: 2, Type: backend.OutputTypeSpeaker},
	}
	assert.EqualValues(t, 2, chooseDefault(devices))
}

func TestChooseDefaultFallsBackToFirstDevice(t *testing.T) {
	devices := []backend.Device{
		{ID: 5, Type: backend.OutputTypeCD},
		{ID: 6, Type: backend.OutputTypeUnknown},
	}
	assert.EqualValues(t, 5, chooseDefault(devices))
}

func TestNegotiateAcceptsFirstCandidateMemoryBackendOffers(t *testing.T) {
	be := newTestBackend(t, backend.Device{ID: 1})
	require.NoError(t, be.Initialize())
	params, err := negotiate(be, 1)
	require.NoError(t, err)
	assert.Equal(t, 44100, params.SampleRate)
	assert.Equal(t, 2, params.Channels)
}

func TestEndToEndConnectOpenCloseStream(t *testing.T) {
	be := newTestBackend(t, backend.Device{ID: 1, Type: backend.OutputTypeSpeaker})
	_, ln := startServer(t, be)
	c := dialAndConnect(t, ln)

	require.GreaterOrEqual(t, c.ClientID, uint32(1))
	require.Contains(t, c.Outputs, uint16(1))

	_, err := c.Transmit(wire.OpOpenStream, wire.OpenStreamPayload{
		OutputID: wire.DefaultOutputID, TargetSampleRate: 44100, InputChannels: 2, Volume: 100,
	}.Marshal())
	require.NoError(t, err)
	reply, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.OpOpenStreamReply, reply.Opcode)

	streamID, err := wire.UnmarshalOpenStreamReply(reply.Payload)
	require.NoError(t, err)

	_, err = c.Transmit(wire.OpCloseStream, wire.MarshalCloseStreamPayload(streamID))
	require.NoError(t, err)
	reply, err = c.Receive()
	require.NoError(t, err)
	assert.Equal(t, wire.OpStatusReplyOK, reply.Opcode)
}

func TestEndToEndSilencePushThroughIsAllZero(t *testing.T) {
	be := newTestBackend(t, backend.Device{ID: 1, Type: backend.OutputTypeSpeaker})
	s, ln := startServer(t, be)
	c := dialAndConnect(t, ln)

	_, err := c.Transmit(wire.OpOpenStream, wire.OpenStreamPayload{
		OutputID: wire.DefaultOutputID, TargetSampleRate: 44100, InputChannels: 2, Volume: 100,
	}.Marshal())
	require.NoError(t, err)
	reply, err := c.Receive()
	require.NoError(t, err)
	streamID, err := wire.UnmarshalOpenStreamReply(reply.Payload)
	require.NoError(t, err)

	silence := make([]byte, 88200) // one second of stereo PCM16 silence at 44100Hz
	_, err = c.Transmit(wire.OpData, wire.MarshalDataPayload(wire.DataPayload{StreamID: streamID, Data: silence}))
	require.NoError(t, err)
	reply, err = c.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.OpStatusReplyOK, reply.Opcode)

	require.Eventually(t, func() bool {
		return len(memBackend(s).Queued(1)) > 0
	}, 3*time.Second, 20*time.Millisecond)

	for _, block := range memBackend(s).Queued(1) {
		for i := 0; i < len(block); i += 2 {
			assert.Zero(t, int16(binary.LittleEndian.Uint16(block[i:i+2])))
		}
	}
}

func TestEndToEndTwoClientsSquareWaveMixingAtHalfVolume(t *testing.T) {
	// Both streams are mono, fed to whatever channel count the backend's
	// default output negotiates to: input channels (1) <= device
	// channels wraps channel 0 onto every device channel unchanged
	// (spec §4.4 step 4), so this holds regardless of device width.
	be := newTestBackend(t, backend.Device{ID: 1, Type: backend.OutputTypeSpeaker})
	s, ln := startServer(t, be)
	deviceRate := s.Outputs[s.DefaultOutputID].SampleRate

	c1 := dialAndConnect(t, ln)
	c2 := dialAndConnect(t, ln)

	const amplitude = 10000
	const frameCount = 100
	openAndPush := func(c *testclient.Client) uint16 {
		_, err := c.Transmit(wire.OpOpenStream, wire.OpenStreamPayload{
			OutputID: wire.DefaultOutputID, TargetSampleRate: uint32(deviceRate), InputChannels: 1, Volume: 50,
		}.Marshal())
		require.NoError(t, err)
		reply, err := c.Receive()
		require.NoError(t, err)
		streamID, err := wire.UnmarshalOpenStreamReply(reply.Payload)
		require.NoError(t, err)

		samples := make([]byte, 0, frameCount*2)
		for i := 0; i < frameCount; i++ {
			samples = binary.LittleEndian.AppendUint16(samples, uint16(int16(amplitude)))
		}
		_, err = c.Transmit(wire.OpData, wire.MarshalDataPayload(wire.DataPayload{StreamID: streamID, Data: samples}))
		require.NoError(t, err)
		reply, err = c.Receive()
		require.NoError(t, err)
		require.Equal(t, wire.OpStatusReplyOK, reply.Opcode)
		return streamID
	}

	openAndPush(c1)
	openAndPush(c2)

	require.Eventually(t, func() bool {
		return len(memBackend(s).Queued(1)) > 0
	}, 3*time.Second, 20*time.Millisecond)

	block := memBackend(s).Queued(1)[0]
	sample := int16(binary.LittleEndian.Uint16(block[0:2]))
	assert.InDelta(t, float64(amplitude), float64(sample), float64(amplitude)*0.05)
}

func TestEndToEndSetNameThenQueryConnections(t *testing.T) {
	be := newTestBackend(t, backend.Device{ID: 1, Type: backend.OutputTypeSpeaker})
	_, ln := startServer(t, be)
	c1 := dialAndConnect(t, ln)
	c2 := dialAndConnect(t, ln)

	name := testclient.MakeName("alpha")
	_, err := c1.Transmit(wire.OpSetName, []byte(name))
	require.NoError(t, err)
	reply, err := c1.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.OpStatusReplyOK, reply.Opcode)

	_, err = c2.Transmit(wire.OpQueryConnections, nil)
	require.NoError(t, err)
	reply, err = c2.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.OpQueryConnectionsReply, reply.Opcode)

	descs, err := wire.UnmarshalQueryConnectionsReply(reply.Payload)
	require.NoError(t, err)
	var found bool
	for _, d := range descs {
		if d.ClientID == c1.ClientID && d.Name == name {
			found = true
		}
	}
	assert.True(t, found)
}

func memBackend(s *Server) *memory.Backend {
	for _, out := range s.Outputs {
		return out.Backend.(*memory.Backend)
	}
	return nil
}
