package dispatch

import (
	"fmt"
	"sort"

	"github.com/lestrrat-go/strftime"

	"github.com/obos-dev/obos-aud/internal/ring"
	"github.com/obos-dev/obos-aud/internal/wire"
)

// handleInitialConnection is the only request accepted while a connection
// is AWAITING_INITIAL; it promotes the connection to ACTIVE.
func (d *Dispatcher) handleInitialConnection(conn *Connection, pkt *wire.Packet) {
	if len(pkt.Payload) != 0 {
		d.invalid(conn, pkt, "Invalid INITIAL_CONNECTION_REQUEST payload length")
		return
	}
	conn.mu.Lock()
	conn.state = StateActive
	conn.mu.Unlock()

	d.reply(conn, pkt, wire.OpInitialConnectionReply, wire.MarshalInitialConnectionReply(wire.InitialConnectionReply{
		ClientID:  conn.id,
		OutputIDs: d.sortedOutputIDs(),
	}))
}

// handleRequest dispatches one request frame from an ACTIVE connection to
// its opcode handler (spec §4.5's "handler set": validate, lookup,
// mutate, reply).
func (d *Dispatcher) handleRequest(conn *Connection, pkt *wire.Packet) {
	switch pkt.Opcode {
	case wire.OpNOP:
		d.handleNOP(conn, pkt)
	case wire.OpDisconnectRequest:
		d.handleDisconnect(conn, pkt)
	case wire.OpOpenStream:
		d.handleOpenStream(conn, pkt)
	case wire.OpCloseStream:
		d.handleCloseStream(conn, pkt)
	case wire.OpData:
		d.handleData(conn, pkt)
	case wire.OpQueryOutputDevice:
		d.handleQueryOutputDevice(conn, pkt)
	case wire.OpStreamSetVolume, wire.OpOutputSetVolume, wire.OpConnectionSetVolume:
		d.handleSetVolume(conn, pkt)
	case wire.OpStreamGetVolume, wire.OpOutputGetVolume, wire.OpConnectionGetVolume:
		d.handleGetVolume(conn, pkt)
	case wire.OpStreamSetFlags:
		d.handleStreamSetFlags(conn, pkt)
	case wire.OpStreamGetFlags:
		d.handleStreamGetFlags(conn, pkt)
	case wire.OpSetName:
		d.handleSetName(conn, pkt)
	case wire.OpQueryConnections:
		d.handleQueryConnections(conn, pkt)
	default:
		d.statusReply(conn, pkt, wire.OpStatusReplyUnsupported, fmt.Sprintf("Unsupported opcode %s", pkt.Opcode))
	}
}

func (d *Dispatcher) handleNOP(conn *Connection, pkt *wire.Packet) {
	if len(pkt.Payload) != 0 {
		d.invalid(conn, pkt, "Invalid NOP payload length")
		return
	}
	d.statusReply(conn, pkt, wire.OpStatusReplyOK, "")
}

func (d *Dispatcher) handleDisconnect(conn *Connection, pkt *wire.Packet) {
	if len(pkt.Payload) != 0 {
		d.invalid(conn, pkt, "Invalid DISCONNECT_REQUEST payload length")
		return
	}
	d.statusReply(conn, pkt, wire.OpStatusReplyDisconnected, "Gracefully disconnected")
	d.closeConnection(conn)
}

func (d *Dispatcher) handleOpenStream(conn *Connection, pkt *wire.Packet) {
	p, err := wire.UnmarshalOpenStreamPayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, "Invalid OPEN_STREAM payload length")
		return
	}

	outputID := d.resolveOutputID(p.OutputID)
	output, ok := d.outputs[outputID]
	if !ok {
		d.invalid(conn, pkt, "Invalid output id")
		return
	}

	conn.mu.Lock()
	if conn.nextStreamID == 0 {
		conn.mu.Unlock()
		d.statusReply(conn, pkt, wire.OpStatusReplyUnsupported, "No more stream handles left.")
		return
	}
	streamID := conn.nextStreamID
	conn.nextStreamID++
	conn.mu.Unlock()

	handle := output.AttachStream(int(p.TargetSampleRate), int(p.InputChannels), float64(p.Volume), conn)

	conn.mu.Lock()
	conn.streams[streamID] = &streamEntry{output: output, handle: handle}
	conn.mu.Unlock()

	d.reply(conn, pkt, wire.OpOpenStreamReply, wire.MarshalOpenStreamReply(streamID))
}

func (d *Dispatcher) handleCloseStream(conn *Connection, pkt *wire.Packet) {
	streamID, err := wire.UnmarshalCloseStreamPayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, "Invalid CLOSE_STREAM payload length")
		return
	}

	conn.mu.Lock()
	entry, ok := conn.streams[streamID]
	if ok {
		delete(conn.streams, streamID)
	}
	conn.mu.Unlock()
	if !ok {
		d.invalid(conn, pkt, "Invalid stream id")
		return
	}
	entry.handle.Close()
	d.statusReply(conn, pkt, wire.OpStatusReplyOK, "")
}

func (d *Dispatcher) handleData(conn *Connection, pkt *wire.Packet) {
	p, err := wire.UnmarshalDataPayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, "Invalid DATA payload length")
		return
	}

	conn.mu.Lock()
	entry, ok := conn.streams[p.StreamID]
	conn.mu.Unlock()
	if !ok {
		d.invalid(conn, pkt, "Invalid stream id")
		return
	}

	entry.handle.Push(p.Data)
	d.statusReply(conn, pkt, wire.OpStatusReplyOK, "")
}

func (d *Dispatcher) handleQueryOutputDevice(conn *Connection, pkt *wire.Packet) {
	outputID16, err := wire.UnmarshalQueryOutputDevicePayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, "Invalid QUERY_OUTPUT_DEVICE payload length")
		return
	}
	outputID := d.resolveOutputID(outputID16)
	dev, ok := d.devices[outputID]
	if !ok {
		d.invalid(conn, pkt, "Invalid output id")
		return
	}

	var flags uint8
	if outputID == d.defaultOutputID {
		flags |= wire.OutputFlagDefault
	}
	d.reply(conn, pkt, wire.OpQueryOutputDeviceReply, wire.MarshalQueryOutputDeviceReply(wire.OutputDev{
		Type:     uint8(dev.Type),
		Color:    uint8(dev.Color),
		Location: uint8(dev.Location),
		Flags:    flags,
		OutputID: outputID,
	}))
}

func (d *Dispatcher) handleSetVolume(conn *Connection, pkt *wire.Packet) {
	p, err := wire.UnmarshalSetVolumePayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, fmt.Sprintf("Invalid %s payload length", pkt.Opcode))
		return
	}

	switch pkt.Opcode {
	case wire.OpStreamSetVolume:
		conn.mu.Lock()
		entry, ok := conn.streams[p.ObjID16]
		conn.mu.Unlock()
		if !ok {
			d.invalid(conn, pkt, "Invalid stream id")
			return
		}
		entry.handle.SetVolume(float64(p.Volume))

	case wire.OpOutputSetVolume:
		output, ok := d.outputs[d.resolveOutputID(p.ObjID16)]
		if !ok {
			d.invalid(conn, pkt, "Invalid output id")
			return
		}
		output.SetVolume(float64(p.Volume))

	case wire.OpConnectionSetVolume:
		target, ok := d.lookupConnection(p.ObjID32)
		if !ok {
			d.invalid(conn, pkt, "Invalid connection id")
			return
		}
		target.setVolume(float64(p.Volume))
	}

	d.statusReply(conn, pkt, wire.OpStatusReplyOK, "")
}

// handleGetVolume implements the *_GET_VOLUME opcodes per their stated
// wire contract. The original obos-aud's stream-get-volume handler
// literally invokes the set-volume macro instead of get (a confirmed bug
// in src/con.c); per the spec's own call-out, this repo implements the
// corrected behavior -- every GET_VOLUME opcode here actually reads the
// volume it names, never writes one.
func (d *Dispatcher) handleGetVolume(conn *Connection, pkt *wire.Packet) {
	id16, id32, err := wire.UnmarshalGetVolumePayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, fmt.Sprintf("Invalid %s payload length", pkt.Opcode))
		return
	}

	var volume float64
	switch pkt.Opcode {
	case wire.OpStreamGetVolume:
		conn.mu.Lock()
		entry, ok := conn.streams[id16]
		conn.mu.Unlock()
		if !ok {
			d.invalid(conn, pkt, "Invalid stream id")
			return
		}
		volume = entry.handle.Volume()

	case wire.OpOutputGetVolume:
		output, ok := d.outputs[d.resolveOutputID(id16)]
		if !ok {
			d.invalid(conn, pkt, "Invalid output id")
			return
		}
		volume = output.Volume()

	case wire.OpConnectionGetVolume:
		target, ok := d.lookupConnection(id32)
		if !ok {
			d.invalid(conn, pkt, "Invalid connection id")
			return
		}
		volume = target.Volume()
	}

	d.reply(conn, pkt, wire.OpGetVolumeReply, wire.MarshalGetVolumeReply(float32(volume)))
}

func (d *Dispatcher) handleStreamSetFlags(conn *Connection, pkt *wire.Packet) {
	p, err := wire.UnmarshalStreamSetFlagsPayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, "Invalid STREAM_SET_FLAGS payload length")
		return
	}
	if !ring.DecodeFlagsValid(p.Flags) {
		d.invalid(conn, pkt, "Invalid decode flags")
		return
	}

	conn.mu.Lock()
	entry, ok := conn.streams[p.StreamID]
	conn.mu.Unlock()
	if !ok {
		d.invalid(conn, pkt, "Invalid stream id")
		return
	}

	entry.handle.SetFlags(p.Flags)
	d.statusReply(conn, pkt, wire.OpStatusReplyOK, "")
}

func (d *Dispatcher) handleStreamGetFlags(conn *Connection, pkt *wire.Packet) {
	streamID, err := wire.UnmarshalStreamGetFlagsPayload(pkt.Payload)
	if err != nil {
		d.invalid(conn, pkt, "Invalid STREAM_GET_FLAGS payload length")
		return
	}

	conn.mu.Lock()
	entry, ok := conn.streams[streamID]
	conn.mu.Unlock()
	if !ok {
		d.invalid(conn, pkt, "Invalid stream id")
		return
	}

	d.reply(conn, pkt, wire.OpStreamGetFlagsReply, wire.MarshalStreamGetFlagsReply(entry.handle.Flags()))
}

func (d *Dispatcher) handleSetName(conn *Connection, pkt *wire.Packet) {
	if len(pkt.Payload) > maxNameLen {
		d.invalid(conn, pkt, "Name too long")
		return
	}
	conn.mu.Lock()
	conn.name = string(pkt.Payload)
	conn.mu.Unlock()
	d.statusReply(conn, pkt, wire.OpStatusReplyOK, "")
}

func (d *Dispatcher) handleQueryConnections(conn *Connection, pkt *wire.Packet) {
	if len(pkt.Payload) != 0 {
		d.invalid(conn, pkt, "Invalid QUERY_CONNECTIONS payload length")
		return
	}

	d.mu.Lock()
	descs := make([]wire.ConnectionDesc, 0, len(d.connections))
	actives := make([]*Connection, 0, len(d.connections))
	for _, c := range d.connections {
		if c.stateSnapshot() != StateActive {
			continue
		}
		descs = append(descs, wire.ConnectionDesc{ClientID: c.id, Name: c.nameSnapshot()})
		actives = append(actives, c)
	}
	d.mu.Unlock()

	sort.Slice(descs, func(i, j int) bool { return descs[i].ClientID < descs[j].ClientID })

	if d.timestampFormat != "" && d.logger != nil {
		for _, c := range actives {
			formatted, err := strftime.Format(d.timestampFormat, c.LoginTime())
			if err != nil {
				continue
			}
			d.logger.Debug("connection", "client", c.id, "login_time", formatted)
		}
	}

	d.reply(conn, pkt, wire.OpQueryConnectionsReply, wire.MarshalQueryConnectionsReply(descs))
}
