// Package mixer implements the per-output mixing engine (spec §4.4):
// one worker goroutine per output device, pulling one frame at a time
// from every attached stream, blending by a three-level volume hierarchy,
// and queuing the result to the backend.
//
// Grounded on the original mixer_worker loop (src/mixer.c): per-iteration
// normalize/unnormalize at half_range=0x10000 (an asymmetric, intentional
// choice reproduced bit-exact, spec §9), volume = stream.volume *
// connection.volume * output.volume, dead-stream reaping once a node's
// ring has drained, and the channel reduce/expand split depending on
// whether total input channels exceed the output's channel count.
package mixer

import (
	"runtime"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/priority"
	"github.com/obos-dev/obos-aud/internal/ring"
)

// halfRange matches the original's asymmetric normalization constant: PCM16
// samples are normalized/unnormalized against [-0x10000, 0x10000] rather
// than the symmetric [-0x8000, 0x7FFF] signed-16 range. This is
// deliberately reproduced, not a Go-side bug (spec §9).
const halfRange = 0x10000

func normalize(sample int16) float64 {
	return float64(sample) / halfRange
}

func unnormalize(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(v * halfRange)
}

// Owner supplies the per-connection volume factor a stream's samples are
// scaled by (spec §4.4's three-level gain: stream x connection x output).
type Owner interface {
	Volume() float64
}

// streamNode is one stream attached to an output, mirroring the original's
// aud_stream_node linked-list entry.
type streamNode struct {
	stream   *ring.Stream
	channels int
	volume   float64 // normalized [0,1]
	owner    Owner
	dead     bool
}

// Output is one mixing destination: a backend device plus the set of
// streams currently feeding it.
type Output struct {
	ID         uint16
	Backend    backend.Backend
	SampleRate int
	Channels   int

	mu      sync.Mutex
	cond    *sync.Cond
	streams []*streamNode
	volume  float64 // normalized [0,1]

	stopped bool
	logger  *log.Logger
}

// New creates an Output bound to backend id with the given negotiated
// parameters, at full volume by default (spec §4.4, mirroring
// mixer_output_set_volume(dev, 100) at startup).
func New(id uint16, be backend.Backend, sampleRate, channels int, logger *log.Logger) *Output {
	if logger == nil {
		logger = log.Default()
	}
	o := &Output{
		ID:         id,
		Backend:    be,
		SampleRate: sampleRate,
		Channels:   channels,
		volume:     1.0,
		logger:     logger,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// SetVolume sets this output's master volume from a [0,100] percentage.
func (o *Output) SetVolume(percent float64) {
	o.mu.Lock()
	o.volume = percent / 100
	o.mu.Unlock()
	_ = o.Backend.SetOutputVolume(o.ID, float32(percent))
}

// Volume returns this output's master volume as a [0,100] percentage.
func (o *Output) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume * 100
}

// AttachStream creates and attaches a new stream to this output at the
// given source sample rate, channel count, and initial volume percentage,
// owned by owner for the connection-level gain factor.
func (o *Output) AttachStream(srcSampleRate, channels int, volumePercent float64, owner Owner, opts ...ring.Option) *StreamHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	node := &streamNode{
		stream:   ring.New(srcSampleRate, o.SampleRate, channels, 0, opts...),
		channels: channels,
		volume:   volumePercent / 100,
		owner:    owner,
	}
	wasEmpty := len(o.streams) == 0
	o.streams = append(o.streams, node)
	if wasEmpty {
		o.cond.Broadcast()
	}
	return &StreamHandle{output: o, node: node}
}

// StreamHandle is a caller's reference to one attached stream.
type StreamHandle struct {
	output *Output
	node   *streamNode
}

// Push forwards raw client bytes into the stream's decode/resample ring.
func (h *StreamHandle) Push(data []byte) { h.node.stream.Push(data) }

// SetFlags updates the stream's decode flags (STREAM_SET_FLAGS).
func (h *StreamHandle) SetFlags(flags uint32) { h.node.stream.SetFlags(flags) }

// Flags returns the stream's current decode flags (STREAM_GET_FLAGS).
func (h *StreamHandle) Flags() uint32 { return h.node.stream.Flags() }

// SetVolume sets the stream-level volume from a [0,100] percentage.
func (h *StreamHandle) SetVolume(percent float64) {
	h.output.mu.Lock()
	h.node.volume = percent / 100
	h.output.mu.Unlock()
}

// Volume returns the stream-level volume as a [0,100] percentage.
func (h *StreamHandle) Volume() float64 {
	h.output.mu.Lock()
	defer h.output.mu.Unlock()
	return h.node.volume * 100
}

// Close marks the stream dead; it is reaped by the mixer worker once its
// ring has fully drained (spec §4.4, matching the original's node.dead
// check inside the per-frame loop rather than an immediate removal, so
// already-buffered audio still plays out).
func (h *StreamHandle) Close() {
	h.node.stream.Close()
	h.output.mu.Lock()
	h.node.dead = true
	h.output.mu.Unlock()
}

// Run drives this output's mixer loop until Stop is called. It is meant
// to be launched in its own goroutine; it locks its OS thread and
// requests a scheduling priority bump for the lifetime of the loop, the
// Go equivalent of the original worker's URGENT thread priority request.
func (o *Output) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := priority.BumpCurrentThread(); err != nil {
		o.logger.Debug("mixer: priority bump failed, continuing at default priority", "output", o.ID, "err", err)
	}

	for {
		o.mu.Lock()
		for len(o.streams) == 0 && !o.stopped {
			o.logger.Debug("mixer: idling output", "output", o.ID)
			if err := o.Backend.Play(o.ID, false); err != nil {
				o.logger.Warn("mixer: backend play(false) failed", "output", o.ID, "err", err)
			}
			o.cond.Wait()
		}
		if o.stopped {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		if err := o.Backend.Play(o.ID, true); err != nil {
			o.logger.Warn("mixer: backend play(true) failed", "output", o.ID, "err", err)
		}
		o.mixCycle()
	}
}

// Stop ends the Run loop after its current cycle.
func (o *Output) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

// mixCycle produces one second of device-rate audio (SampleRate frames)
// by blending every attached stream, then queues it to the backend in a
// single call, matching the original's per-device fixed mix buffer.
func (o *Output) mixCycle() {
	frameBytes := 2 * o.Channels
	buf := make([]byte, o.SampleRate*frameBytes)

	for i := 0; i < o.SampleRate; i++ {
		o.mu.Lock()
		if len(o.streams) == 0 {
			o.mu.Unlock()
			break
		}
		mixed := o.mixFrameLocked()
		o.mu.Unlock()

		for c := 0; c < o.Channels; c++ {
			v := unnormalize(mixed[c])
			buf[i*frameBytes+2*c] = byte(uint16(v))
			buf[i*frameBytes+2*c+1] = byte(uint16(v) >> 8)
		}
	}

	if err := o.Backend.Queue(o.ID, buf); err != nil {
		o.logger.Warn("mixer: backend queue failed, dropping frame", "output", o.ID, "err", err)
	}
}

// mixFrameLocked pulls one frame from every attached stream, applies the
// three-level gain, reaps dead-and-drained streams, and reduces/expands
// the combined channel layout to the output's channel count. Caller holds
// o.mu.
func (o *Output) mixFrameLocked() []float64 {
	var samples []float64
	live := o.streams[:0]
	for _, node := range o.streams {
		frame, ok := node.stream.Read()
		gain := node.volume * o.volume
		if node.owner != nil {
			gain *= node.owner.Volume() / 100
		}
		if !ok {
			for c := 0; c < node.channels; c++ {
				samples = append(samples, normalize(0))
			}
		} else {
			for c := 0; c < node.channels; c++ {
				v := int16(uint16(frame[2*c]) | uint16(frame[2*c+1])<<8)
				samples = append(samples, normalize(v)*gain)
			}
		}

		if node.dead && node.stream.BufferedFrames() == 0 {
			continue // reaped: not carried into `live`
		}
		live = append(live, node)
	}
	o.streams = live

	return reduceChannels(samples, o.Channels)
}

// reduceChannels maps an arbitrary-width input channel vector onto
// dev.Channels output channels (spec §4.4 step 4).
//
// When input channels <= output channels, each output channel wraps onto
// input channel (c % len(input)) unchanged (the original's cheap
// fan-out). When input channels > output channels, inputs are
// partitioned as evenly as possible across output channels (leftover
// channels distributed to the first channels), each partition is
// averaged, and the result is clamped to [-1, 1].
func reduceChannels(in []float64, outChannels int) []float64 {
	out := make([]float64, outChannels)
	if len(in) == 0 {
		return out
	}
	if len(in) <= outChannels {
		for c := 0; c < outChannels; c++ {
			out[c] = in[c%len(in)]
		}
		return out
	}

	samplesPerChannel := len(in) / outChannels
	extra := len(in) % outChannels
	additional := extra / outChannels
	if additional == 0 {
		additional = 1
	}
	idx := 0
	for c := 0; c < outChannels; c++ {
		n := samplesPerChannel
		if extra > 0 {
			extra -= additional
			n += additional
		}
		var sum float64
		for i := 0; i < n && idx < len(in); i++ {
			sum += in[idx]
			idx++
		}
		if n > 0 {
			sum /= float64(n)
		}
		if sum > 1 {
			sum = 1
		}
		if sum < -1 {
			sum = -1
		}
		out[c] = sum
	}
	return out
}
