// Package ring implements the per-stream decode-resample-buffer pipeline
// a mixer worker pulls frames from (spec §4.3).
//
// Each Stream owns a fixed-size byte ring holding decoded 16-bit PCM at
// the output device's native sample rate and channel count. Push decodes
// and resamples incoming client bytes before appending them; Read pulls
// one frame non-blocking for the mixer. The producer/consumer handoff
// mirrors the teacher's transmit-queue pattern of a mutex guarding shared
// state plus a sync.Cond the producer signals and the consumer waits on,
// rather than the original C implementation's busy-wait sched_yield loop.
package ring

import (
	"sync"

	"github.com/obos-dev/obos-aud/internal/wire"
)

// Option configures a Stream's resampling behavior.
type Option func(*Stream)

// WithMeanDownsample switches the downsample path (src rate >= dst rate)
// from the original's divide-less sum to an arithmetic mean, correcting
// the silence/overflow-prone default (spec §9(c), DESIGN.md).
func WithMeanDownsample() Option {
	return func(s *Stream) { s.meanDownsample = true }
}

// Stream is a single client stream's decode+resample+buffer pipeline.
type Stream struct {
	mu   sync.Mutex
	cond *sync.Cond

	srcRate  int
	dstRate  int
	channels int
	flags    uint32

	buf      []byte // ring storage, sized 2*dstRate*channels bytes
	readPos  int
	writePos int

	meanDownsample bool
	closed         bool
}

// frameBytes is the byte size of one interleaved PCM16 frame.
func (s *Stream) frameBytes() int { return 2 * s.channels }

// New creates a Stream decoding/resampling from srcRate to dstRate across
// channels channels, sized to hold one second of device-rate audio (spec
// §4.3: buffer size is 2*dev_sample_rate*channels bytes).
func New(srcRate, dstRate, channels int, flags uint32, opts ...Option) *Stream {
	s := &Stream{
		srcRate:  srcRate,
		dstRate:  dstRate,
		channels: channels,
		flags:    flags,
		buf:      make([]byte, 2*dstRate*channels),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFlags updates the decode flags applied by subsequent Push calls
// (STREAM_SET_FLAGS, spec §6.1).
func (s *Stream) SetFlags(flags uint32) {
	s.mu.Lock()
	s.flags = flags
	s.mu.Unlock()
}

// Flags returns the decode flags currently applied by Push.
func (s *Stream) Flags() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *Stream) available() int {
	return len(s.buf) - (s.writePos - s.readPos)
}

// Push decodes data per the stream's flags, resamples it to the device
// rate, and appends the result to the ring (spec §4.3 steps 1-3). It
// blocks until enough space frees up if the ring is full, waking whenever
// the consumer drains via Read.
func (s *Stream) Push(data []byte) {
	samples := decode(s.flags, data)
	resampled := resample(samples, s.channels, s.srcRate, s.dstRate, s.meanDownsample)
	out := int16sToBytes(resampled)

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(out) > 0 {
		for s.available() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return
		}
		n := len(out)
		if n > s.available() {
			n = s.available()
		}
		if n > len(s.buf) {
			n = len(s.buf)
		}
		s.appendLocked(out[:n])
		out = out[n:]
		s.cond.Broadcast()
	}
}

// appendLocked copies chunk into the ring at writePos, wrapping as
// needed. Caller holds s.mu.
func (s *Stream) appendLocked(chunk []byte) {
	cap := len(s.buf)
	start := s.writePos % cap
	n := copy(s.buf[start:], chunk)
	if n < len(chunk) {
		copy(s.buf, chunk[n:])
	}
	s.writePos += len(chunk)
}

// Read pulls exactly one device-rate frame (frameBytes bytes) without
// blocking. It reports false if fewer than one frame is currently
// buffered. When the ring fully drains, the read/write cursors reset to
// zero, matching the original's in_ptr==ptr reset (spec §4.3).
func (s *Stream) Read() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := s.frameBytes()
	if s.writePos-s.readPos < frame {
		return nil, false
	}

	cap := len(s.buf)
	start := s.readPos % cap
	out := make([]byte, frame)
	n := copy(out, s.buf[start:])
	if n < frame {
		copy(out[n:], s.buf)
	}
	s.readPos += frame

	if s.readPos == s.writePos {
		s.readPos, s.writePos = 0, 0
	}
	s.cond.Broadcast()
	return out, true
}

// Close unblocks any Push waiting for space. Further Push calls on a
// closed Stream return immediately without writing.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// BufferedFrames reports how many whole device-rate frames are currently
// available to Read, for tests and mixer bookkeeping.
func (s *Stream) BufferedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.writePos - s.readPos) / s.frameBytes()
}

// DecodeFlagsValid reports whether flags set only defined, mutually
// exclusive decode bits (spec §6.1's STREAM_SET_FLAGS validation).
func DecodeFlagsValid(flags uint32) bool {
	if flags & ^uint32(wire.FlagValidMask) != 0 {
		return false
	}
	set := 0
	for _, f := range []uint32{wire.FlagULawDecode, wire.FlagALawDecode, wire.FlagPCM24Decode, wire.FlagPCM32Decode, wire.FlagF32Decode} {
		if flags&f != 0 {
			set++
		}
	}
	return set <= 1
}
