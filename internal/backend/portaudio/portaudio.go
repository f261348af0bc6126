//go:build portaudio

// Package portaudio implements backend.Backend against the host's default
// output device via gordonklaus/portaudio. It is gated behind the
// "portaudio" build tag because it requires the native PortAudio library
// to be installed; the default build of this module uses the memory or
// file backend instead, the same way the teacher project gates its
// ALSA/OSS audio code behind cgo and a USE_ALSA preprocessor switch.
//
// This backend exposes exactly one output device: the host's system
// default. Real multi-device enumeration on Linux is provided instead by
// internal/backend/alsaenum, whose results Configure/Queue here can be fed
// once PortAudio is asked to open a specific device rather than the
// default — left as a natural extension point, since PortAudio's
// per-device open API mirrors alsaenum.Device.ID 1:1.
package portaudio

import (
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/obos-dev/obos-aud/internal/backend"
)

// DefaultOutputID is the single device id this backend exposes.
const DefaultOutputID uint16 = 1

// Backend drives the host's default audio output device through
// PortAudio's callback API. Queue appends to a pending sample buffer that
// the callback drains on each hardware tick; underruns are filled with
// silence rather than blocking the audio thread.
type Backend struct {
	mu      sync.Mutex
	stream  *pa.Stream
	params  backend.Params
	volume  float32
	pending []int16
}

// New returns a backend ready to be Initialize()d.
func New() *Backend {
	return &Backend{volume: 100}
}

func (b *Backend) Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

func (b *Backend) Enumerate() ([]backend.Device, error) {
	return []backend.Device{{
		ID:   DefaultOutputID,
		Type: backend.OutputTypeSpeaker,
	}}, nil
}

func (b *Backend) Configure(id uint16, sampleRate, channels, formatSize int) error {
	if id != DefaultOutputID {
		return &backend.Error{Op: "Configure", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream != nil {
		_ = b.stream.Close()
		b.stream = nil
	}

	stream, err := pa.OpenDefaultStream(0, channels, float64(sampleRate), 0, func(out []int16) {
		b.mu.Lock()
		n := copy(out, b.pending)
		b.pending = b.pending[n:]
		b.mu.Unlock()
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
	})
	if err != nil {
		return &backend.Error{Op: "Configure", ID: id, Err: err}
	}
	b.stream = stream
	b.params = backend.Params{SampleRate: sampleRate, Channels: channels, FormatSize: formatSize}
	return nil
}

func (b *Backend) Query(id uint16) (backend.Params, error) {
	if id != DefaultOutputID {
		return backend.Params{}, &backend.Error{Op: "Query", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params, nil
}

func (b *Backend) Queue(id uint16, pcm []byte) error {
	if id != DefaultOutputID {
		return &backend.Error{Op: "Queue", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return &backend.Error{Op: "Queue", ID: id, Err: fmt.Errorf("not configured")}
	}
	b.pending = append(b.pending, bytesToInt16(pcm)...)
	return nil
}

func (b *Backend) Play(id uint16, playing bool) error {
	if id != DefaultOutputID {
		return &backend.Error{Op: "Play", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.mu.Lock()
	stream := b.stream
	b.mu.Unlock()
	if stream == nil {
		return nil
	}
	if playing {
		return stream.Start()
	}
	return stream.Stop()
}

// SetOutputVolume is best-effort: PortAudio has no portable master-volume
// API, so this is a no-op the mixer tolerates (spec §4.2).
func (b *Backend) SetOutputVolume(id uint16, percent float32) error {
	if id != DefaultOutputID {
		return &backend.Error{Op: "SetOutputVolume", ID: id, Err: backend.ErrNoSuchOutput}
	}
	b.mu.Lock()
	b.volume = percent
	b.mu.Unlock()
	return nil
}

func bytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}
