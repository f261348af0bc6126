// Package dispatch implements the connection dispatcher (spec §4.5): the
// per-connection state machine, the poll-loop/FIFO-work-queue concurrency
// model, and the full opcode handler table.
//
// The original server_main.c owns a single poll() loop over every
// listening and accepted file descriptor, pushes each fully-read frame
// onto one mutex-protected FIFO linked list, then drains and dispatches
// that list from the same thread. Go's net package has no poll(2)
// equivalent worth reaching for; this package generalizes the same
// contract -- one dispatching goroutine, FIFO per connection, arbitrary
// interleaving across connections -- onto the idiomatic Go shape: one
// reader goroutine per accepted connection (grounded on the teacher's
// kissnet.go accept-loop/per-client-goroutine pattern) feeding a single
// buffered channel that one Run goroutine drains in order. Each reader
// sends its frames into that channel in the order it received them, which
// is what keeps per-connection ordering FIFO.
package dispatch

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/mixer"
	"github.com/obos-dev/obos-aud/internal/wire"
)

// maxNameLen bounds SET_NAME, matching spec §4.5's "bounded string".
const maxNameLen = 256

// workItem is one unit of dispatcher work: a request frame to handle, or
// a teardown notice from a reader goroutine that lost its connection.
type workItem struct {
	conn     *Connection
	pkt      *wire.Packet
	teardown bool
}

// Dispatcher owns the connection table and the single FIFO work queue
// every accepted connection's frames funnel through.
type Dispatcher struct {
	logger          *log.Logger
	outputs         map[uint16]*mixer.Output
	devices         map[uint16]backend.Device
	defaultOutputID uint16
	// timestampFormat, when non-empty, is a strftime pattern (the teacher's
	// -T/tq.go/xmit.go convention) used to render a connection's login
	// time in QUERY_CONNECTIONS debug logging.
	timestampFormat string

	mu          sync.Mutex
	connections map[uint32]*Connection
	nextClient  atomic.Uint32

	work chan workItem
}

// New returns a Dispatcher serving the given outputs (keyed by output id,
// spec §3's global output table) with defaultOutputID resolving
// wire.DefaultOutputID lookups. timestampFormat may be empty.
func New(outputs map[uint16]*mixer.Output, devices map[uint16]backend.Device, defaultOutputID uint16, timestampFormat string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		logger:          logger,
		outputs:         outputs,
		devices:         devices,
		defaultOutputID: defaultOutputID,
		timestampFormat: timestampFormat,
		connections:     make(map[uint32]*Connection),
		work:            make(chan workItem, 256),
	}
}

// Serve accepts connections from ln until it returns an error (typically
// because ln was closed by Shutdown's caller).
func (d *Dispatcher) Serve(ln net.Listener) error {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			return err
		}
		d.accept(netConn)
	}
}

func (d *Dispatcher) accept(netConn net.Conn) {
	clientID := d.nextClient.Add(1)
	conn := newConnection(clientID, netConn)
	d.mu.Lock()
	d.connections[clientID] = conn
	d.mu.Unlock()
	d.logger.Debug("accepted connection", "client", clientID, "remote", netConn.RemoteAddr())
	go d.readLoop(conn)
}

func (d *Dispatcher) readLoop(conn *Connection) {
	for {
		pkt, err := wire.Receive(conn.conn)
		if err != nil {
			// Bad magic, short header, or peer-close all land here: the
			// frame layer couldn't be parsed at all, so there is no
			// handler to run validation inside -- silent teardown (spec
			// §7 "peer closed/socket error", §8 scenario 6's bad-magic
			// case).
			d.work <- workItem{conn: conn, teardown: true}
			return
		}
		d.work <- workItem{conn: conn, pkt: pkt}
	}
}

// Run drains the work queue until stop is closed, dispatching one item at
// a time -- the single-thread "drain the FIFO queue" half of the original
// poll loop.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case item := <-d.work:
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item workItem) {
	conn := item.conn
	if item.teardown {
		if conn.stateSnapshot() != StateClosed {
			d.closeConnection(conn)
		}
		return
	}

	pkt := item.pkt
	switch conn.stateSnapshot() {
	case StateAwaitingInitial:
		if pkt.Opcode != wire.OpInitialConnectionRequest {
			d.statusReply(conn, pkt, wire.OpStatusReplyDisconnected, "Client never seen")
			d.closeConnection(conn)
			return
		}
		d.handleInitialConnection(conn, pkt)
	case StateActive:
		d.handleRequest(conn, pkt)
	default:
		// DISCONNECTING/CLOSED: a frame that raced the teardown. Drop it
		// silently; the connection is already being torn down.
	}
}

// closeConnection tears down conn: closes every stream it owns (the mixer
// reaps each once its ring drains, spec §4.4), removes it from the
// connection table, and closes its socket.
func (d *Dispatcher) closeConnection(conn *Connection) {
	conn.mu.Lock()
	conn.state = StateDisconnecting
	streams := conn.streams
	conn.streams = nil
	conn.mu.Unlock()

	for _, entry := range streams {
		entry.handle.Close()
	}

	d.mu.Lock()
	delete(d.connections, conn.id)
	d.mu.Unlock()

	_ = conn.conn.Close()

	conn.mu.Lock()
	conn.state = StateClosed
	conn.mu.Unlock()
}

// Shutdown closes every currently-tracked connection.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	conns := make([]*Connection, 0, len(d.connections))
	for _, c := range d.connections {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		if c.stateSnapshot() != StateClosed {
			d.closeConnection(c)
		}
	}
}

// ConnectionCount reports the number of currently-tracked connections,
// for tests/diagnostics.
func (d *Dispatcher) ConnectionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.connections)
}

func (d *Dispatcher) lookupConnection(clientID uint32) (*Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.connections[clientID]
	return c, ok
}

// resolveOutputID maps wire.DefaultOutputID onto the configured default.
func (d *Dispatcher) resolveOutputID(id uint16) uint16 {
	if id == wire.DefaultOutputID {
		return d.defaultOutputID
	}
	return id
}

func (d *Dispatcher) sortedOutputIDs() []uint16 {
	ids := make([]uint16, 0, len(d.outputs))
	for id := range d.outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Dispatcher) reply(conn *Connection, req *wire.Packet, opcode wire.Opcode, payload []byte) {
	_, err := wire.Transmit(conn.conn, &wire.Packet{
		Opcode:              opcode,
		TransmissionID:      req.TransmissionID,
		TransmissionIDValid: true,
		ClientID:            conn.id,
		Payload:             payload,
	}, conn.ids)
	if err != nil {
		d.logger.Warn("reply failed", "client", conn.id, "opcode", opcode, "err", err)
	}
}

func (d *Dispatcher) statusReply(conn *Connection, req *wire.Packet, status wire.Opcode, detail string) {
	d.reply(conn, req, status, []byte(detail))
}

func (d *Dispatcher) invalid(conn *Connection, req *wire.Packet, detail string) {
	d.statusReply(conn, req, wire.OpStatusReplyInval, detail)
}
