// Package file implements a backend.Backend that writes each output
// device's mixed PCM to a plain file or FIFO path, one file per output.
//
// The original obos-aud treats its file/FIFO backend as an external,
// out-of-scope hardware implementation (spec §1). This package is a
// minimal reimagining of that idea kept in scope because every deployment
// needs at least one backend that writes real bytes somewhere without
// requiring audio hardware; it does no format negotiation beyond what
// Configure/Query already specify.
package file

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/obos-dev/obos-aud/internal/backend"
)

// Target names the output file/FIFO path for one device.
type Target struct {
	Device backend.Device
	Path   string
}

// Backend writes queued PCM for each configured output to its target path,
// opened once on first Queue and kept open until the backend is closed.
type Backend struct {
	mu      sync.Mutex
	targets map[uint16]Target
	params  map[uint16]backend.Params
	playing map[uint16]bool
	files   map[uint16]*os.File
}

// New returns a file backend that will expose exactly the given targets.
func New(targets []Target) *Backend {
	b := &Backend{
		targets: make(map[uint16]Target, len(targets)),
		params:  make(map[uint16]backend.Params),
		playing: make(map[uint16]bool),
		files:   make(map[uint16]*os.File),
	}
	for _, t := range targets {
		b.targets[t.Device.ID] = t
	}
	return b
}

func (b *Backend) Initialize() error { return nil }

func (b *Backend) Enumerate() ([]backend.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Device, 0, len(b.targets))
	for _, t := range b.targets {
		out = append(out, t.Device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) Configure(id uint16, sampleRate, channels, formatSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.targets[id]; !ok {
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
	target, ok := b.targets[id]
	if !ok {
		return &backend.Error{Op: "Queue", ID: id, Err: backend.ErrNoSuchOutput}
	}
	f, ok := b.files[id]
	if !ok {
		var err error
		f, err = os.OpenFile(target.Path, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return &backend.Error{Op: "Queue", ID: id, Err: fmt.Errorf("open %s: %w", target.Path, err)}
		}
		b.files[id] = f
	}
	if _, err := f.Write(pcm); err != nil {
		return &backend.Error{Op: "Queue", ID: id, Err: err}
	}
	return nil
}

func (b *Backend) Play(id uint16, playing bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.targets[id]; !ok {
		return &backend.Error{Op: "Play", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.playing[id] = playing
	return nil
}

// SetOutputVolume is a no-op: a plain file/FIFO sink has no hardware
// attenuation to apply. The mixer tolerates backends that ignore volume
// (spec §4.2).
func (b *Backend) SetOutputVolume(id uint16, percent float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.targets[id]; !ok {
		return &backend.Error{Op: "SetOutputVolume", ID: id, Err: backend.ErrNoSuchOutput}
	}
	return nil
}

// Close closes every output file this backend opened.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for id, f := range b.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.files, id)
	}
	return firstErr
}
