package dispatch

import (
	"net"
	"sync"
	"time"

	"github.com/obos-dev/obos-aud/internal/mixer"
	"github.com/obos-dev/obos-aud/internal/wire"
)

// State is a connection's position in the lifecycle spec §4.5 defines:
// AWAITING_INITIAL -> ACTIVE -> DISCONNECTING -> CLOSED.
type State int

const (
	StateAwaitingInitial State = iota
	StateActive
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingInitial:
		return "AWAITING_INITIAL"
	case StateActive:
		return "ACTIVE"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// streamEntry is one stream a connection has open, mapping its
// connection-scoped id onto the mixer handle actually producing audio.
type streamEntry struct {
	output *mixer.Output
	handle *mixer.StreamHandle
}

// Connection is one accepted client. It implements mixer.Owner so its
// volume factors into every stream it owns (spec §4.4's three-level gain).
type Connection struct {
	id   uint32
	conn net.Conn
	ids  *wire.IDGenerator

	mu           sync.Mutex
	state        State
	name         string
	volume       float64 // percentage [0, 100+]
	streams      map[uint16]*streamEntry
	nextStreamID uint16
	loginTime    time.Time
}

func newConnection(id uint32, conn net.Conn) *Connection {
	return &Connection{
		id:           id,
		conn:         conn,
		ids:          wire.NewIDGenerator(),
		volume:       100,
		streams:      make(map[uint16]*streamEntry),
		nextStreamID: 1,
		loginTime:    time.Now(),
	}
}

// LoginTime reports when this connection was accepted, for diagnostics
// (QUERY_CONNECTIONS logging).
func (c *Connection) LoginTime() time.Time { return c.loginTime }

// ID returns the connection's server-assigned client id.
func (c *Connection) ID() uint32 { return c.id }

// Volume implements mixer.Owner: the connection-level gain factor, as a
// percentage, applied to every stream this connection owns.
func (c *Connection) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *Connection) setVolume(percent float64) {
	c.mu.Lock()
	c.volume = percent
	c.mu.Unlock()
}

func (c *Connection) stateSnapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) nameSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}
