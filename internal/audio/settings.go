// Package audio turns the raw chunk stream of a synthesis provider into a single
// clean mono buffer and encodes it as WAV.
//
// The pipeline is: normalize every chunk, drop the empty ones, trim the leading
// silence of the first chunk, concatenate, trim again, then apply one linear fade-in.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// Default pipeline settings.
const (
	DEFAULT_SAMPLE_RATE       = 24000 // Native Kokoro output rate.
	DEFAULT_SILENCE_THRESHOLD = 1e-4
	DEFAULT_BACKTRACK_SAMPLES = 10
	DEFAULT_FADE_MS           = 15.0
)

// Constants for validation limits.
const (
	MAX_SAMPLE_RATE       = 192000
	MAX_FADE_MS           = 1000.0
	MAX_BACKTRACK_SAMPLES = 48000
)

// Constants for error message formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between 1 and %d Hz, got %d"
	ERR_FMT_THRESHOLD_RANGE   = "%w: silence threshold must be between 0.0 and 1.0, got %g"
	ERR_FMT_BACKTRACK_RANGE   = "%w: backtrack must be between 0 and %d samples, got %d"
	ERR_FMT_FADE_RANGE        = "%w: fade must be between 0 and %.0f ms, got %g"
)

var (
	// ErrInvalidSettings is returned when pipeline settings are out of range.
	ErrInvalidSettings = errors.New("invalid audio settings")
	// ErrInvalidSampleRate is returned for sample rates the encoder cannot write.
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	// ErrEmptySynthesis is returned when the provider produced no usable audio.
	ErrEmptySynthesis = errors.New("empty synthesis result")
)

// Settings holds the numeric policy of the assembly pipeline.
type Settings struct {
	SilenceThreshold float64
	BacktrackSamples int
	FadeMS           float64
}

// NewDefaultSettings returns the settings used when nothing is configured.
func NewDefaultSettings() Settings {
	return Settings{
		SilenceThreshold: DEFAULT_SILENCE_THRESHOLD,
		BacktrackSamples: DEFAULT_BACKTRACK_SAMPLES,
		FadeMS:           DEFAULT_FADE_MS,
	}
}

// Validate checks that the settings are within reasonable bounds.
func (s Settings) Validate() error {
	if math.IsNaN(s.SilenceThreshold) || s.SilenceThreshold < 0.0 || s.SilenceThreshold > 1.0 {
		return fmt.Errorf(ERR_FMT_THRESHOLD_RANGE, ErrInvalidSettings, s.SilenceThreshold)
	}

	if s.BacktrackSamples < 0 || s.BacktrackSamples > MAX_BACKTRACK_SAMPLES {
		return fmt.Errorf(
			ERR_FMT_BACKTRACK_RANGE,
			ErrInvalidSettings,
			MAX_BACKTRACK_SAMPLES,
			s.BacktrackSamples,
		)
	}

	if math.IsNaN(s.FadeMS) || s.FadeMS < 0.0 || s.FadeMS > MAX_FADE_MS {
		return fmt.Errorf(ERR_FMT_FADE_RANGE, ErrInvalidSettings, MAX_FADE_MS, s.FadeMS)
	}

	return nil
}

// ValidateSampleRate checks that a sample rate can be written to a WAV header.
func ValidateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(
			ERR_FMT_SAMPLE_RATE_RANGE,
			ErrInvalidSampleRate,
			MAX_SAMPLE_RATE,
			sampleRate,
		)
	}

	return nil
}
