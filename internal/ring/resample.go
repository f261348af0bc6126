package ring

import "math"

// resample re-rates interleaved PCM16 frames from srcRate to dstRate,
// preserving channel layout (spec §4.3 step 2).
//
// Let r = srcRate/dstRate. For r >= 1 ("downsample"), each output frame is
// the sum of floor(1/r) consecutive input frames per channel, with no
// division — this is the original behavior, and for any r > 1 that count
// is 0, so the downsample path produces silence rather than a genuine
// downmix. That is a faithful reproduction of the upstream resampler, not
// a Go-side bug; meanDownsample instead makes each output frame the
// arithmetic mean of the floor(r) input frames it spans
// (ring.WithMeanDownsample), which is the corrected behavior the spec
// permits implementations to opt into.
//
// For r < 1 ("upsample"), each output frame is the nearest-neighbor input
// frame with no averaging. Both branches are asymmetric by design (spec
// §9(c)); this function never changes which branch divides.
func resample(samples []int16, channels, srcRate, dstRate int, meanDownsample bool) []int16 {
	if srcRate == dstRate || channels == 0 || len(samples) == 0 {
		return samples
	}
	frameCount := len(samples) / channels
	r := float64(srcRate) / float64(dstRate)
	newFrameCount := int(math.Ceil(float64(frameCount) / r))
	if newFrameCount < 0 {
		newFrameCount = 0
	}
	out := make([]int16, newFrameCount*channels)

	if r >= 1 {
		count := int(math.Floor(1 / r))
		if meanDownsample {
			count = int(math.Floor(r))
		}
		for n := 0; n < newFrameCount; n++ {
			start := int(math.Floor(float64(n) * r))
			for ch := 0; ch < channels; ch++ {
				var sum int32
				actual := 0
				for j := 0; j < count; j++ {
					idx := start + j
					if idx >= frameCount {
						break
					}
					sum += int32(samples[idx*channels+ch])
					actual++
				}
				var v int32 = sum
				if meanDownsample && actual > 0 {
					v = sum / int32(actual)
				}
				out[n*channels+ch] = clampInt16(v)
			}
		}
		return out
	}

	for n := 0; n < newFrameCount; n++ {
		idx := int(math.Floor(float64(n) * r))
		if idx >= frameCount {
			idx = frameCount - 1
		}
		if idx < 0 {
			idx = 0
		}
		for ch := 0; ch < channels; ch++ {
			out[n*channels+ch] = samples[idx*channels+ch]
		}
	}
	return out
}

func clampInt16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
