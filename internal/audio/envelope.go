package audio

import "math"

// TrimLeadingSilence drops the silent lead-in of buf. The first sample whose
// magnitude exceeds threshold is the onset; the result starts backtrack samples
// before it. A buffer with no onset is returned unchanged.
func TrimLeadingSilence(buf []float64, threshold float64, backtrack int) []float64 {
	onset := -1

	for i, sample := range buf {
		if math.Abs(sample) > threshold {
			onset = i

			break
		}
	}

	if onset < 0 {
		return buf
	}

	start := max(onset-max(backtrack, 0), 0)

	return buf[start:]
}

// FadeSamples returns the length of a fade of fadeMS milliseconds at sampleRate.
func FadeSamples(sampleRate int, fadeMS float64) int {
	if sampleRate <= 0 || fadeMS <= 0 {
		return 0
	}

	return int(float64(sampleRate) * fadeMS / 1000)
}

// ApplyFadeIn scales the head of buf by a linear 0..1 ramp spanning fadeMS.
// The ramp is computed over the full fade length; when that exceeds len(buf)
// only the available prefix is scaled. buf is modified in place and returned.
//
// Applying it twice compounds the ramp.
func ApplyFadeIn(buf []float64, sampleRate int, fadeMS float64) []float64 {
	fadeSamples := FadeSamples(sampleRate, fadeMS)
	if fadeSamples == 0 {
		return buf
	}

	limit := min(fadeSamples, len(buf))
	for i := range limit {
		buf[i] *= rampAt(i, fadeSamples)
	}

	return buf
}

// rampAt is element i of linspace(0, 1, n).
func rampAt(i, n int) float64 {
	if n <= 1 {
		return 0
	}

	return float64(i) / float64(n-1)
}
