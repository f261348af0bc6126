// Package memory implements an in-process backend.Backend that captures
// queued PCM instead of writing it to real hardware. It is the server's
// zero-dependency default and the backend every mixer/dispatch test drives
// (spec §4.2's Backend interface is consumed identically regardless of
// what sits behind it).
package memory

import (
	"errors"
	"sync"

	"github.com/obos-dev/obos-aud/internal/backend"
)

// Backend is a fixed set of virtual output devices that record every
// queued PCM block for inspection by tests.
type Backend struct {
	mu      sync.Mutex
	devices []backend.Device
	params  map[uint16]backend.Params
	playing map[uint16]bool
	volume  map[uint16]float32
	queued  map[uint16][][]byte
}

// New returns a memory backend exposing the given devices. At least one
// device must be supplied for Initialize to succeed.
func New(devices []backend.Device) *Backend {
	return &Backend{
		devices: devices,
		params:  make(map[uint16]backend.Params),
		playing: make(map[uint16]bool),
		volume:  make(map[uint16]float32),
		queued:  make(map[uint16][][]byte),
	}
}

func (b *Backend) Initialize() error {
	if len(b.devices) == 0 {
		return errors.New("memory: no output devices")
	}
	return nil
}

func (b *Backend) Enumerate() ([]backend.Device, error) {
	out := make([]backend.Device, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

func (b *Backend) Configure(id uint16, sampleRate, channels, formatSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDevice(id) {
		return &backend.Error{Op: "Configure", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.params[id] = backend.Params{SampleRate: sampleRate, Channels: channels, FormatSize: formatSize}
	return nil
}

func (b *Backend) Query(id uint16) (backend.Params, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.params[id]
	if !ok {
		return backend.Params{}, &backend.Error{Op: "Query", ID: id, Err: backend.ErrNoSuchOutput}
	}
	return p, nil
}

func (b *Backend) Queue(id uint16, pcm []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDevice(id) {
		return &backend.Error{Op: "Queue", ID: id, Err: backend.ErrNoSuchOutput}
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	b.queued[id] = append(b.queued[id], cp)
	return nil
}

func (b *Backend) Play(id uint16, playing bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDevice(id) {
		return &backend.Error{Op: "Play", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.playing[id] = playing
	return nil
}

func (b *Backend) SetOutputVolume(id uint16, percent float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDevice(id) {
		return &backend.Error{Op: "SetOutputVolume", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.volume[id] = percent
	return nil
}

func (b *Backend) hasDevice(id uint16) bool {
	for _, d := range b.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Queued returns a copy of every PCM block queued to output id so far, in
// FIFO order, for test assertions.
func (b *Backend) Queued(id uint16) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.queued[id]))
	copy(out, b.queued[id])
	return out
}

// IsPlaying reports the last value passed to Play for output id.
func (b *Backend) IsPlaying(id uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing[id]
}
