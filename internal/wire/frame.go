package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Magic is the fixed frame marker, sent in network (big-endian) byte order.
const Magic uint32 = 0x0B05A7D1

// BaseHeaderSize is the minimum header size every frame must declare via
// its data_offset field.
const BaseHeaderSize = 24

var (
	// ErrInvalidFrame is returned when a frame's magic is wrong or its
	// data_offset is smaller than BaseHeaderSize.
	ErrInvalidFrame = errors.New("wire: invalid frame")
	// ErrPeerClosed is returned when the peer closes the connection
	// mid-read (a zero-byte read at any header or payload stage).
	ErrPeerClosed = errors.New("wire: peer closed connection")
)

// Packet is the library-side representation of one frame. It never exists
// on the wire as a single contiguous struct; Transmit/Receive translate
// between it and the framed byte layout (spec §4.1).
type Packet struct {
	Opcode Opcode
	// TransmissionID is the frame's transmission id. When replying to a
	// request, set TransmissionIDValid and TransmissionID to the
	// request's id; Transmit will use it as-is instead of minting a new
	// one.
	TransmissionID      uint32
	TransmissionIDValid bool
	ClientID            uint32
	Payload             []byte
}

// IDGenerator hands out fresh, monotonically increasing transmission ids
// for one client library instance (spec §3, Global tables).
type IDGenerator struct {
	next atomic.Uint32
}

// NewIDGenerator returns a generator whose first id is 1 (0 is never
// assigned automatically, keeping it free for callers needing a sentinel).
func NewIDGenerator() *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(1)
	return g
}

// Next returns the next transmission id.
func (g *IDGenerator) Next() uint32 {
	return g.next.Add(1) - 1
}

// Transmit serializes pk and writes the complete frame to w. If pk does
// not carry a valid transmission id (it is not a reply), ids.Next() mints
// one. The assigned id is returned so callers can correlate a later reply.
func Transmit(w io.Writer, pk *Packet, ids *IDGenerator) (uint32, error) {
	id := pk.TransmissionID
	if !pk.TransmissionIDValid {
		id = ids.Next()
	}

	total := uint32(BaseHeaderSize + len(pk.Payload))
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], BaseHeaderSize)
	binary.BigEndian.PutUint32(buf[8:12], total)
	binary.BigEndian.PutUint32(buf[12:16], uint32(pk.Opcode))
	binary.LittleEndian.PutUint32(buf[16:20], id)
	binary.LittleEndian.PutUint32(buf[20:24], pk.ClientID)
	copy(buf[BaseHeaderSize:], pk.Payload)

	if _, err := writeFullRetrying(w, buf); err != nil {
		return 0, fmt.Errorf("wire: transmit: %w", err)
	}
	return id, nil
}

// Receive reads one complete frame from r and decodes it into a Packet.
// Reads retry transparently on interruption (handled by the underlying
// net.Conn); a zero-byte read at any stage is reported as ErrPeerClosed.
func Receive(r io.Reader) (*Packet, error) {
	prefix := make([]byte, 8)
	if err := readFullRetrying(r, prefix); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(prefix[0:4])
	dataOffset := binary.BigEndian.Uint32(prefix[4:8])
	if magic != Magic || dataOffset < BaseHeaderSize {
		return nil, ErrInvalidFrame
	}

	rest := make([]byte, BaseHeaderSize-8)
	if err := readFullRetrying(r, rest); err != nil {
		return nil, err
	}
	totalSize := binary.BigEndian.Uint32(rest[0:4])
	opcode := binary.BigEndian.Uint32(rest[4:8])
	transID := binary.LittleEndian.Uint32(rest[8:12])
	clientID := binary.LittleEndian.Uint32(rest[12:16])

	if extra := dataOffset - BaseHeaderSize; extra > 0 {
		discard := make([]byte, extra)
		if err := readFullRetrying(r, discard); err != nil {
			return nil, err
		}
	}

	if totalSize < dataOffset {
		return nil, ErrInvalidFrame
	}
	payload := make([]byte, totalSize-dataOffset)
	if len(payload) > 0 {
		if err := readFullRetrying(r, payload); err != nil {
			return nil, err
		}
	}

	return &Packet{
		Opcode:              Opcode(opcode),
		TransmissionID:      transID,
		TransmissionIDValid: true,
		ClientID:            clientID,
		Payload:             payload,
	}, nil
}

// readFullRetrying fills buf completely, retrying on interrupted reads and
// reporting a zero-byte / premature-EOF read as ErrPeerClosed.
func readFullRetrying(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if n == 0 || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrPeerClosed
		}
		return err
	}
	return nil
}

// writeFullRetrying writes buf completely, retrying on interrupted writes
// (io.Writer implementations over sockets already retry internally on
// EINTR; this wrapper exists so the retry contract is explicit at the call
// site, matching the original transmit()'s retry-on-interrupt behavior).
func writeFullRetrying(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
