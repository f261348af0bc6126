// Package wire implements the obos-aud binary wire protocol: frame
// layout, opcode space, and reply correlation (spec §4.1, §6.1).
package wire

// Opcode identifies the kind of a frame. The opcode space is partitioned
// into requests, typed replies, and status replies (spec §6.1).
type Opcode uint32

// Request opcodes. Every request receives exactly one reply.
const (
	OpInitialConnectionRequest Opcode = 0x0000 + iota
	OpNOP
	OpDisconnectRequest
	OpOpenStream
	OpCloseStream
	OpData
	OpQueryOutputDevice
	OpStreamSetVolume
	OpStreamGetVolume
	OpOutputSetVolume
	OpOutputGetVolume
	OpConnectionSetVolume
	OpConnectionGetVolume
	OpStreamSetFlags
	OpStreamGetFlags
	OpSetName
	OpQueryConnections
)

// Typed reply opcodes.
const (
	OpInitialConnectionReply Opcode = 0x1000 + iota
	OpOpenStreamReply
	OpQueryOutputDeviceReply
	OpGetVolumeReply
	OpStreamGetFlagsReply
	OpQueryConnectionsReply
)

// Status reply opcodes. Payload, when present, is a human-readable ASCII
// detail string.
const (
	OpStatusReplyOK Opcode = 0x2000 + iota
	OpStatusReplyUnsupported
	OpStatusReplyInval
	OpStatusReplyDisconnected
)

const (
	requestRangeEnd    = 0x1000
	replyRangeEnd      = 0x2000
	statusRangeEnd     = 0x3000
	StatusReplyCeiling = 0x2fff
)

// IsRequest reports whether op lies in the request opcode range.
func (op Opcode) IsRequest() bool { return op < requestRangeEnd }

// IsTypedReply reports whether op lies in the typed-reply opcode range.
func (op Opcode) IsTypedReply() bool { return op >= requestRangeEnd && op < replyRangeEnd }

// IsStatusReply reports whether op lies in the status-reply opcode range.
func (op Opcode) IsStatusReply() bool { return op >= replyRangeEnd && op < statusRangeEnd }

//go:generate stringer -type=Opcode

var opcodeNames = map[Opcode]string{
	OpInitialConnectionRequest: "INITIAL_CONNECTION_REQUEST",
	OpNOP:                      "NOP",
	OpDisconnectRequest:        "DISCONNECT_REQUEST",
	OpOpenStream:               "OPEN_STREAM",
	OpCloseStream:              "CLOSE_STREAM",
	OpData:                     "DATA",
	OpQueryOutputDevice:        "QUERY_OUTPUT_DEVICE",
	OpStreamSetVolume:          "STREAM_SET_VOLUME",
	OpStreamGetVolume:          "STREAM_GET_VOLUME",
	OpOutputSetVolume:          "OUTPUT_SET_VOLUME",
	OpOutputGetVolume:          "OUTPUT_GET_VOLUME",
	OpConnectionSetVolume:      "CONNECTION_SET_VOLUME",
	OpConnectionGetVolume:      "CONNECTION_GET_VOLUME",
	OpStreamSetFlags:           "STREAM_SET_FLAGS",
	OpStreamGetFlags:           "STREAM_GET_FLAGS",
	OpSetName:                  "SET_NAME",
	OpQueryConnections:         "QUERY_CONNECTIONS",

	OpInitialConnectionReply: "INITIAL_CONNECTION_REPLY",
	OpOpenStreamReply:        "OPEN_STREAM_REPLY",
	OpQueryOutputDeviceReply: "QUERY_OUTPUT_DEVICE_REPLY",
	OpGetVolumeReply:         "GET_VOLUME_REPLY",
	OpStreamGetFlagsReply:    "STREAM_GET_FLAGS_REPLY",
	OpQueryConnectionsReply:  "QUERY_CONNECTIONS_REPLY",

	OpStatusReplyOK:           "STATUS_REPLY_OK",
	OpStatusReplyUnsupported:  "STATUS_REPLY_UNSUPPORTED",
	OpStatusReplyInval:        "STATUS_REPLY_INVAL",
	OpStatusReplyDisconnected: "STATUS_REPLY_DISCONNECTED",
}

// String renders op the way server log lines and diagnostics do.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN_OPCODE"
}

// AllowedReplies returns the set of reply opcodes a client may legitimately
// see in response to req, for reply correlation (spec §4.1). A request not
// in this table has no defined reply set.
func AllowedReplies(req Opcode) []Opcode {
	switch req {
	case OpInitialConnectionRequest:
		return []Opcode{OpInitialConnectionReply, OpStatusReplyInval}
	case OpNOP:
		return []Opcode{OpStatusReplyOK, OpStatusReplyInval}
	case OpDisconnectRequest:
		return []Opcode{OpStatusReplyDisconnected, OpStatusReplyInval}
	case OpOpenStream:
		return []Opcode{OpOpenStreamReply, OpStatusReplyInval, OpStatusReplyUnsupported}
	case OpCloseStream:
		return []Opcode{OpStatusReplyOK, OpStatusReplyInval}
	case OpData:
		return []Opcode{OpStatusReplyOK, OpStatusReplyInval}
	case OpQueryOutputDevice:
		return []Opcode{OpQueryOutputDeviceReply, OpStatusReplyInval}
	case OpStreamSetVolume, OpOutputSetVolume, OpConnectionSetVolume, OpStreamSetFlags:
		return []Opcode{OpStatusReplyOK, OpStatusReplyInval}
	case OpStreamGetVolume, OpOutputGetVolume, OpConnectionGetVolume:
		return []Opcode{OpGetVolumeReply, OpStatusReplyInval}
	case OpStreamGetFlags:
		return []Opcode{OpStreamGetFlagsReply, OpStatusReplyInval}
	case OpSetName:
		return []Opcode{OpStatusReplyOK, OpStatusReplyInval}
	case OpQueryConnections:
		return []Opcode{OpQueryConnectionsReply, OpStatusReplyInval}
	default:
		return nil
	}
}

// Stream decode flag bits (spec §6.1). Bit 0 is mutually exclusive with
// every other decode bit; absence of all bits means raw PCM16.
const (
	FlagULawDecode uint32 = 1 << iota
	FlagPCM32Decode
	FlagPCM24Decode
	FlagALawDecode
	FlagF32Decode
)

// FlagValidMask covers every defined decode bit; any other bit set makes a
// STREAM_SET_FLAGS payload invalid.
const FlagValidMask = FlagULawDecode | FlagPCM32Decode | FlagPCM24Decode | FlagALawDecode | FlagF32Decode

// DefaultOutputID is the reserved output id meaning "server default
// output" (spec §6.1).
const DefaultOutputID uint16 = 0xFFFF
