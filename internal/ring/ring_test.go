package ring

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func pcm16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(s))
	}
	return out
}

func TestPushReadSameRateRoundTrip(t *testing.T) {
	s := New(44100, 44100, 2, 0)
	samples := []int16{1, -1, 2, -2, 3, -3}
	s.Push(pcm16Bytes(samples))

	frame, ok := s.Read()
	require.True(t, ok)
	assert.Equal(t, pcm16Bytes(samples[0:2]), frame)

	frame, ok = s.Read()
	require.True(t, ok)
	assert.Equal(t, pcm16Bytes(samples[2:4]), frame)
}

func TestReadFalseWhenLessThanOneFrameBuffered(t *testing.T) {
	s := New(44100, 44100, 2, 0)
	s.Push([]byte{0x01, 0x00}) // half a stereo frame
	_, ok := s.Read()
	assert.False(t, ok)
}

func TestReadResetsCursorsWhenDrained(t *testing.T) {
	s := New(44100, 44100, 1, 0)
	s.Push(pcm16Bytes([]int16{10, 20, 30}))
	for i := 0; i < 3; i++ {
		_, ok := s.Read()
		require.True(t, ok)
	}
	assert.Zero(t, s.readPos)
	assert.Zero(t, s.writePos)
}

func TestPushBlocksUntilReadDrains(t *testing.T) {
	// Tiny device rate so the ring (2*rate*channels bytes) holds a single
	// frame; pushing two same-rate frames fills it and blocks on the second.
	s := New(1, 1, 1, 0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Push(make([]byte, 4))
	}()

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 2048; i++ {
		s.Read()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push did not unblock after Read drained space")
	}
}

func TestULawDecodeTableEndpointsMatchOriginal(t *testing.T) {
	// Bit-exact against the original ulaw_decode_table: byte 0x7F decodes
	// to 0, byte 0x00 decodes to the largest negative magnitude.
	assert.Equal(t, int16(0), ulawToLinear[0x7F])
	assert.Equal(t, int16(-32124), ulawToLinear[0x00])
}

func TestDecodePCM16PassthroughIsIdentity(t *testing.T) {
	raw := pcm16Bytes([]int16{100, -100, 32767, -32768})
	got := decode(0, raw)
	assert.Equal(t, []int16{100, -100, 32767, -32768}, got)
}

func TestResampleIdentityWhenRatesMatch(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	got := resample(samples, 1, 44100, 44100, false)
	assert.Equal(t, samples, got)
}

func TestResampleUpsampleIsNearestNeighborNoDivision(t *testing.T) {
	// srcRate < dstRate => r < 1 => nearest-neighbor, no averaging.
	samples := []int16{10, 20}
	got := resample(samples, 1, 8000, 16000, false)
	require.Len(t, got, 4)
	assert.Equal(t, int16(10), got[0])
}

func TestResampleDownsampleWithRGreaterThanOneIsSilence(t *testing.T) {
	// srcRate > dstRate => r > 1 => floor(1/r) == 0 consecutive frames
	// summed, reproducing the original's silent-downsample behavior.
	samples := []int16{100, 200, 300, 400}
	got := resample(samples, 1, 16000, 8000, false)
	for _, v := range got {
		assert.Zero(t, v)
	}
}

func TestResampleMeanDownsampleOptInAverages(t *testing.T) {
	s := New(16000, 8000, 1, 0, WithMeanDownsample())
	assert.True(t, s.meanDownsample)
	// r = 2: each output frame is the mean of the two input frames it spans.
	got := resample([]int16{100, 200, 300, 400}, 1, 16000, 8000, true)
	assert.Equal(t, []int16{150, 350}, got)
}

func TestDecodeFlagsValidRejectsCombinedBits(t *testing.T) {
	assert.True(t, DecodeFlagsValid(0))
	assert.True(t, DecodeFlagsValid(0b00001))
	assert.False(t, DecodeFlagsValid(0b00001|0b00010))
}

func TestDecodeFlagsValidRejectsUnknownBits(t *testing.T) {
	assert.False(t, DecodeFlagsValid(1<<31))
}

func TestPushResampleRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		channels := rapid.IntRange(1, 2).Draw(t, "channels")
		dstRate := rapid.SampledFrom([]int{8000, 16000, 44100}).Draw(t, "dstRate")
		frameCount := rapid.IntRange(1, 32).Draw(t, "frameCount")

		s := New(dstRate, dstRate, channels, 0)
		samples := make([]int16, frameCount*channels)
		for i := range samples {
			samples[i] = int16(rapid.IntRange(-32768, 32767).Draw(t, "sample"))
		}
		s.Push(pcm16Bytes(samples))

		gotFrames := 0
		for {
			frame, ok := s.Read()
			if !ok {
				break
			}
			gotFrames++
			_ = frame
		}
		assert.Equal(t, frameCount, gotFrames)
	})
}
