package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OutputDev is the wire representation of an output device's semantic
// properties (spec §6.1): packed 8 bytes, all little-endian.
type OutputDev struct {
	Type     uint8
	Color    uint8
	Location uint8
	Flags    uint8
	OutputID uint16
}

const outputDevSize = 8

// OutputFlagDefault marks an OutputDev as the server's chosen default.
const OutputFlagDefault uint8 = 1 << 0

func (d OutputDev) Marshal() []byte {
	buf := make([]byte, outputDevSize)
	buf[0] = d.Type
	buf[1] = d.Color
	buf[2] = d.Location
	// buf[3], buf[4] are the reserved padding bytes.
	buf[5] = d.Flags
	binary.LittleEndian.PutUint16(buf[6:8], d.OutputID)
	return buf
}

func UnmarshalOutputDev(buf []byte) (OutputDev, error) {
	if len(buf) != outputDevSize {
		return OutputDev{}, fmt.Errorf("wire: output_dev: want %d bytes, got %d", outputDevSize, len(buf))
	}
	return OutputDev{
		Type:     buf[0],
		Color:    buf[1],
		Location: buf[2],
		Flags:    buf[5],
		OutputID: binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// OpenStreamPayload is the OPEN_STREAM request payload.
type OpenStreamPayload struct {
	OutputID         uint16
	TargetSampleRate uint32
	InputChannels    uint8
	Volume           float32
}

const openStreamPayloadSize = 2 + 4 + 1 + 4

func (p OpenStreamPayload) Marshal() []byte {
	buf := make([]byte, openStreamPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.OutputID)
	binary.LittleEndian.PutUint32(buf[2:6], p.TargetSampleRate)
	buf[6] = p.InputChannels
	binary.LittleEndian.PutUint32(buf[7:11], float32bits(p.Volume))
	return buf
}

func UnmarshalOpenStreamPayload(buf []byte) (OpenStreamPayload, error) {
	if len(buf) != openStreamPayloadSize {
		return OpenStreamPayload{}, fmt.Errorf("wire: open_stream payload: want %d bytes, got %d", openStreamPayloadSize, len(buf))
	}
	return OpenStreamPayload{
		OutputID:         binary.LittleEndian.Uint16(buf[0:2]),
		TargetSampleRate: binary.LittleEndian.Uint32(buf[2:6]),
		InputChannels:    buf[6],
		Volume:           float32frombits(binary.LittleEndian.Uint32(buf[7:11])),
	}, nil
}

// SetVolumePayload is shared by STREAM/OUTPUT/CONNECTION_SET_VOLUME. The id
// width (16 vs 32 bit) depends on the opcode: streams and outputs use a
// 16-bit id in the low half-word, connections use the full 32 bits.
type SetVolumePayload struct {
	ObjID16 uint16
	ObjID32 uint32
	Volume  float32
}

const setVolumePayloadSize = 4 + 4

func marshalSetVolume16(id uint16, volume float32) []byte {
	buf := make([]byte, setVolumePayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], id)
	binary.LittleEndian.PutUint32(buf[4:8], float32bits(volume))
	return buf
}

func marshalSetVolume32(id uint32, volume float32) []byte {
	buf := make([]byte, setVolumePayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], float32bits(volume))
	return buf
}

// UnmarshalSetVolumePayload decodes a fixed 8-byte set-volume payload,
// exposing the id both ways; callers pick the width their opcode defines.
func UnmarshalSetVolumePayload(buf []byte) (SetVolumePayload, error) {
	if len(buf) != setVolumePayloadSize {
		return SetVolumePayload{}, fmt.Errorf("wire: set_volume payload: want %d bytes, got %d", setVolumePayloadSize, len(buf))
	}
	return SetVolumePayload{
		ObjID16: binary.LittleEndian.Uint16(buf[0:2]),
		ObjID32: binary.LittleEndian.Uint32(buf[0:4]),
		Volume:  float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

const getVolumePayloadSize = 4

// UnmarshalGetVolumePayload decodes a fixed 4-byte get-volume payload; see
// SetVolumePayload for the id-width convention.
func UnmarshalGetVolumePayload(buf []byte) (objID16 uint16, objID32 uint32, err error) {
	if len(buf) != getVolumePayloadSize {
		return 0, 0, fmt.Errorf("wire: get_volume payload: want %d bytes, got %d", getVolumePayloadSize, len(buf))
	}
	return binary.LittleEndian.Uint16(buf[0:2]), binary.LittleEndian.Uint32(buf[0:4]), nil
}

func marshalGetVolume16(id uint16) []byte {
	buf := make([]byte, getVolumePayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], id)
	return buf
}

func marshalGetVolume32(id uint32) []byte {
	buf := make([]byte, getVolumePayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	return buf
}

const closeStreamPayloadSize = 2

func MarshalCloseStreamPayload(streamID uint16) []byte {
	buf := make([]byte, closeStreamPayloadSize)
	binary.LittleEndian.PutUint16(buf, streamID)
	return buf
}

func UnmarshalCloseStreamPayload(buf []byte) (uint16, error) {
	if len(buf) != closeStreamPayloadSize {
		return 0, fmt.Errorf("wire: close_stream payload: want %d bytes, got %d", closeStreamPayloadSize, len(buf))
	}
	return binary.LittleEndian.Uint16(buf), nil
}

const queryOutputDevicePayloadSize = 2

func MarshalQueryOutputDevicePayload(outputID uint16) []byte {
	buf := make([]byte, queryOutputDevicePayloadSize)
	binary.LittleEndian.PutUint16(buf, outputID)
	return buf
}

func UnmarshalQueryOutputDevicePayload(buf []byte) (uint16, error) {
	if len(buf) != queryOutputDevicePayloadSize {
		return 0, fmt.Errorf("wire: query_output_device payload: want %d bytes, got %d", queryOutputDevicePayloadSize, len(buf))
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// DataPayload is the DATA request payload: a stream id followed by raw
// (possibly encoded) audio bytes.
type DataPayload struct {
	StreamID uint16
	Data     []byte
}

const dataPayloadHeaderSize = 2

func MarshalDataPayload(p DataPayload) []byte {
	buf := make([]byte, dataPayloadHeaderSize+len(p.Data))
	binary.LittleEndian.PutUint16(buf[0:2], p.StreamID)
	copy(buf[dataPayloadHeaderSize:], p.Data)
	return buf
}

func UnmarshalDataPayload(buf []byte) (DataPayload, error) {
	if len(buf) < dataPayloadHeaderSize {
		return DataPayload{}, fmt.Errorf("wire: data payload: want at least %d bytes, got %d", dataPayloadHeaderSize, len(buf))
	}
	return DataPayload{
		StreamID: binary.LittleEndian.Uint16(buf[0:2]),
		Data:     buf[dataPayloadHeaderSize:],
	}, nil
}

// StreamSetFlagsPayload is the STREAM_SET_FLAGS request payload.
type StreamSetFlagsPayload struct {
	StreamID uint16
	Flags    uint32
}

const streamSetFlagsPayloadSize = 2 + 4

func MarshalStreamSetFlagsPayload(p StreamSetFlagsPayload) []byte {
	buf := make([]byte, streamSetFlagsPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.StreamID)
	binary.LittleEndian.PutUint32(buf[2:6], p.Flags)
	return buf
}

func UnmarshalStreamSetFlagsPayload(buf []byte) (StreamSetFlagsPayload, error) {
	if len(buf) != streamSetFlagsPayloadSize {
		return StreamSetFlagsPayload{}, fmt.Errorf("wire: stream_set_flags payload: want %d bytes, got %d", streamSetFlagsPayloadSize, len(buf))
	}
	return StreamSetFlagsPayload{
		StreamID: binary.LittleEndian.Uint16(buf[0:2]),
		Flags:    binary.LittleEndian.Uint32(buf[2:6]),
	}, nil
}

const streamGetFlagsPayloadSize = 2

func MarshalStreamGetFlagsPayload(streamID uint16) []byte {
	buf := make([]byte, streamGetFlagsPayloadSize)
	binary.LittleEndian.PutUint16(buf, streamID)
	return buf
}

func UnmarshalStreamGetFlagsPayload(buf []byte) (uint16, error) {
	if len(buf) != streamGetFlagsPayloadSize {
		return 0, fmt.Errorf("wire: stream_get_flags payload: want %d bytes, got %d", streamGetFlagsPayloadSize, len(buf))
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ---- Reply payloads ----

// InitialConnectionReply is the INITIAL_CONNECTION_REPLY payload.
type InitialConnectionReply struct {
	ClientID  uint32
	OutputIDs []uint16
}

func MarshalInitialConnectionReply(r InitialConnectionReply) []byte {
	buf := make([]byte, 4+2*len(r.OutputIDs))
	binary.LittleEndian.PutUint32(buf[0:4], r.ClientID)
	for i, id := range r.OutputIDs {
		binary.LittleEndian.PutUint16(buf[4+2*i:4+2*i+2], id)
	}
	return buf
}

func UnmarshalInitialConnectionReply(buf []byte) (InitialConnectionReply, error) {
	if len(buf) < 4 || (len(buf)-4)%2 != 0 {
		return InitialConnectionReply{}, fmt.Errorf("wire: initial_connection_reply: malformed payload of %d bytes", len(buf))
	}
	r := InitialConnectionReply{ClientID: binary.LittleEndian.Uint32(buf[0:4])}
	for i := 4; i < len(buf); i += 2 {
		r.OutputIDs = append(r.OutputIDs, binary.LittleEndian.Uint16(buf[i:i+2]))
	}
	return r, nil
}

const openStreamReplyPayloadSize = 2

func MarshalOpenStreamReply(streamID uint16) []byte {
	buf := make([]byte, openStreamReplyPayloadSize)
	binary.LittleEndian.PutUint16(buf, streamID)
	return buf
}

func UnmarshalOpenStreamReply(buf []byte) (uint16, error) {
	if len(buf) != openStreamReplyPayloadSize {
		return 0, fmt.Errorf("wire: open_stream_reply: want %d bytes, got %d", openStreamReplyPayloadSize, len(buf))
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func MarshalQueryOutputDeviceReply(dev OutputDev) []byte {
	return dev.Marshal()
}

func UnmarshalQueryOutputDeviceReply(buf []byte) (OutputDev, error) {
	return UnmarshalOutputDev(buf)
}

const getVolumeReplyPayloadSize = 4

func MarshalGetVolumeReply(volume float32) []byte {
	buf := make([]byte, getVolumeReplyPayloadSize)
	binary.LittleEndian.PutUint32(buf, float32bits(volume))
	return buf
}

func UnmarshalGetVolumeReply(buf []byte) (float32, error) {
	if len(buf) != getVolumeReplyPayloadSize {
		return 0, fmt.Errorf("wire: get_volume_reply: want %d bytes, got %d", getVolumeReplyPayloadSize, len(buf))
	}
	return float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

const streamGetFlagsReplyPayloadSize = 4

func MarshalStreamGetFlagsReply(flags uint32) []byte {
	buf := make([]byte, streamGetFlagsReplyPayloadSize)
	binary.LittleEndian.PutUint32(buf, flags)
	return buf
}

func UnmarshalStreamGetFlagsReply(buf []byte) (uint32, error) {
	if len(buf) != streamGetFlagsReplyPayloadSize {
		return 0, fmt.Errorf("wire: stream_get_flags_reply: want %d bytes, got %d", streamGetFlagsReplyPayloadSize, len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ConnectionDesc is one entry of a QUERY_CONNECTIONS_REPLY. Entries are
// self-describing (SizeofDesc) so the reply payload can be iterated by
// stepping that many bytes without a separate count field per entry.
type ConnectionDesc struct {
	ClientID uint32
	Name     string
}

const connectionDescHeaderSize = 4 + 4 // sizeof_desc + client_id

// MarshalQueryConnectionsReply lays out descs back to back, each prefixed
// by its own total size.
func MarshalQueryConnectionsReply(descs []ConnectionDesc) []byte {
	var out []byte
	for _, d := range descs {
		nameBytes := []byte(d.Name)
		entry := make([]byte, connectionDescHeaderSize+len(nameBytes))
		binary.LittleEndian.PutUint32(entry[0:4], uint32(len(entry)))
		binary.LittleEndian.PutUint32(entry[4:8], d.ClientID)
		copy(entry[connectionDescHeaderSize:], nameBytes)
		out = append(out, entry...)
	}
	return out
}

// UnmarshalQueryConnectionsReply walks the self-describing entry list.
func UnmarshalQueryConnectionsReply(buf []byte) ([]ConnectionDesc, error) {
	var descs []ConnectionDesc
	for off := 0; off < len(buf); {
		if off+connectionDescHeaderSize > len(buf) {
			return nil, fmt.Errorf("wire: query_connections_reply: truncated entry at offset %d", off)
		}
		size := binary.LittleEndian.Uint32(buf[off : off+4])
		if size < connectionDescHeaderSize || int(size) > len(buf)-off {
			return nil, fmt.Errorf("wire: query_connections_reply: invalid sizeof_desc %d at offset %d", size, off)
		}
		clientID := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		name := string(buf[off+connectionDescHeaderSize : off+int(size)])
		descs = append(descs, ConnectionDesc{ClientID: clientID, Name: name})
		off += int(size)
	}
	return descs, nil
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
