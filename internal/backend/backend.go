// Package backend defines the narrow hardware contract the mixer engine
// consumes (spec §4.2) and the reference backends this repository ships.
//
// The original obos-aud project treats actual hardware backends (a
// file/FIFO sink and a High-Definition-Audio driver) as external
// collaborators (spec §1); only the interface they must satisfy is
// specified. This package keeps that boundary: Backend is the contract,
// and every concrete implementation here is either a minimal reference
// sink (memory, file) or an optional build-tagged real device driver
// (portaudio, alsaenum) that a deployment can opt into.
package backend

import (
	"errors"
	"fmt"
)

// Device describes one output as enumerated at startup (spec §3).
type Device struct {
	ID       uint16
	Type     OutputType
	Color    OutputColor
	Location OutputLocation
}

// OutputType mirrors the original obos-aud's aud_output_type enum.
type OutputType uint8

const (
	OutputTypeLineOut OutputType = iota
	OutputTypeSpeaker
	OutputTypeHeadphone
	OutputTypeCD
	OutputTypeSPDIFOut
	OutputTypeOtherDigitalOut
	OutputTypeUnknown
)

// OutputColor mirrors the original obos-aud's aud_output_color enum.
type OutputColor uint8

// OutputLocation mirrors the original obos-aud's aud_output_location enum.
type OutputLocation uint8

// Params is a negotiated/realized (sample_rate, channels, format_size)
// tuple (spec §4.2).
type Params struct {
	SampleRate int
	Channels   int
	FormatSize int // bits per sample; this release is fixed at 16.
}

// ErrNoSuchOutput is returned by Configure/Query/Queue/Play/SetVolume when
// the output id is not one Enumerate returned.
var ErrNoSuchOutput = errors.New("backend: no such output")

// Backend is the contract the mixer engine requires of a hardware driver
// (spec §4.2). Implementations MAY substitute parameters on Configure and
// MAY ignore SetOutputVolume; the mixer tolerates both.
type Backend interface {
	// Initialize prepares the backend for use. Called once at startup;
	// failure aborts server initialization (spec §7).
	Initialize() error

	// Enumerate returns the ordered list of output devices this backend
	// exposes. Called once at startup; the result is not re-probed while
	// the server runs (spec's Non-goal: no dynamic output discovery).
	Enumerate() ([]Device, error)

	// Configure attempts to realize the given parameters for output id.
	// It may legally be called again for the same output only when no
	// stream is currently producing to it (the mixer enforces this by
	// quiescing first).
	Configure(id uint16, sampleRate, channels, formatSize int) error

	// Query returns the parameters actually realized for output id,
	// which may differ from what was requested.
	Query(id uint16) (Params, error)

	// Queue delivers one block of interleaved PCM to output id, in FIFO
	// order per output. It may block.
	Queue(id uint16, pcm []byte) error

	// Play starts or stops DAC activity for output id. Idempotent.
	Play(id uint16, playing bool) error

	// SetOutputVolume applies a best-effort master attenuation in
	// hardware, expressed as a percentage in [0, 100+].
	SetOutputVolume(id uint16, percent float32) error
}

// Error wraps a backend operation failure with the output id it concerns,
// for uniform logging across implementations.
type Error struct {
	Op string
	ID uint16
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend: %s(output=%d): %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
