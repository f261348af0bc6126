package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTransmitReceiveRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		opcode := Opcode(rapid.Uint32Range(0, 0x2fff).Draw(t, "opcode"))
		clientID := rapid.Uint32().Draw(t, "clientID")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "payload")

		pk := &Packet{Opcode: opcode, ClientID: clientID, Payload: payload}

		var buf bytes.Buffer
		ids := NewIDGenerator()
		assignedID, err := Transmit(&buf, pk, ids)
		require.NoError(t, err)

		got, err := Receive(&buf)
		require.NoError(t, err)

		assert.Equal(t, opcode, got.Opcode)
		assert.Equal(t, clientID, got.ClientID)
		assert.Equal(t, assignedID, got.TransmissionID)
		assert.True(t, got.TransmissionIDValid)
		assert.Equal(t, payload, got.Payload)
	})
}

func TestTransmitUsesSuppliedTransmissionIDWhenReplying(t *testing.T) {
	pk := &Packet{
		Opcode:              OpStatusReplyOK,
		TransmissionID:      42,
		TransmissionIDValid: true,
	}
	var buf bytes.Buffer
	ids := NewIDGenerator()
	assignedID, err := Transmit(&buf, pk, ids)
	require.NoError(t, err)
	assert.EqualValues(t, 42, assignedID)

	got, err := Receive(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got.TransmissionID)
}

func TestIDGeneratorIsMonotonic(t *testing.T) {
	ids := NewIDGenerator()
	var last uint32
	for i := 0; i < 100; i++ {
		id := ids.Next()
		if i > 0 {
			assert.Greater(t, id, last)
		}
		last = id
	}
}

func TestReceiveRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x00, 24})
	_, err := Receive(&buf)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestReceiveRejectsShortDataOffset(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x0B, 0x05, 0xA7, 0xD1, 0x00, 0x00, 0x00, 16})
	_, err := Receive(&buf)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestReceiveEmptyReaderIsPeerClosed(t *testing.T) {
	var buf bytes.Buffer
	_, err := Receive(&buf)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReceiveDiscardsExtraHeaderBytes(t *testing.T) {
	pk := &Packet{Opcode: OpNOP, ClientID: 7, Payload: []byte("hi")}
	var buf bytes.Buffer
	ids := NewIDGenerator()
	_, err := Transmit(&buf, pk, ids)
	require.NoError(t, err)

	// Rebuild the frame with a larger data_offset and extra header bytes,
	// as a forward-compatible sender might.
	raw := buf.Bytes()
	const extra = 8
	bigger := make([]byte, len(raw)+extra)
	copy(bigger, raw[:8])
	bigger[7] = byte(BaseHeaderSize + extra)
	copy(bigger[8:24], raw[8:24])
	totalSize := BaseHeaderSize + extra + len(pk.Payload)
	bigger[11] = byte(totalSize)
	copy(bigger[24+extra:], raw[24:])

	got, err := Receive(bytes.NewReader(bigger))
	require.NoError(t, err)
	assert.Equal(t, pk.Payload, got.Payload)
	assert.Equal(t, OpNOP, got.Opcode)
}

func TestQueryConnectionsReplyRoundTrip(t *testing.T) {
	descs := []ConnectionDesc{
		{ClientID: 1, Name: "alpha"},
		{ClientID: 2, Name: ""},
		{ClientID: 3, Name: "gamma ray"},
	}
	buf := MarshalQueryConnectionsReply(descs)
	got, err := UnmarshalQueryConnectionsReply(buf)
	require.NoError(t, err)
	assert.Equal(t, descs, got)
}

func TestQueryConnectionsReplySizeofDescSteps(t *testing.T) {
	descs := []ConnectionDesc{{ClientID: 9, Name: "alpha"}}
	buf := MarshalQueryConnectionsReply(descs)
	assert.EqualValues(t, connectionDescHeaderSize+len("alpha"), len(buf))
}
