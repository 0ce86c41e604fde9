package audio

import (
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavChannels    = 1
	wavFormatPCM   = 1
	pcm16MaxSample = 32767
)

// EncodeWAV encodes mono float samples as a 16-bit PCM WAV file. Samples are
// clipped to [-1, 1].
func EncodeWAV(samples []float64, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySynthesis
	}

	err := ValidateSampleRate(sampleRate)
	if err != nil {
		return nil, err
	}

	// The wav encoder seeks back to patch chunk sizes, so it needs a file.
	tempFile, err := os.CreateTemp("", "tts-encode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for wav encoding: %w", err)
	}

	defer func() {
		_ = os.Remove(tempFile.Name())
	}()

	encodeErr := writeWAV(tempFile, samples, sampleRate)
	closeErr := tempFile.Close()

	if encodeErr != nil {
		return nil, encodeErr
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close temp wav file: %w", closeErr)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded wav: %w", err)
	}

	return data, nil
}

func writeWAV(file *os.File, samples []float64, sampleRate int) error {
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: wavChannels, SampleRate: sampleRate},
		Data:           toPCM16(samples),
		SourceBitDepth: wavBitDepth,
	}

	encoder := wav.NewEncoder(file, sampleRate, wavBitDepth, wavChannels, wavFormatPCM)

	err := encoder.Write(buffer)
	if err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("failed to close wav encoder: %w", err)
	}

	return nil
}

func toPCM16(samples []float64) []int {
	out := make([]int, len(samples))
	for i, sample := range samples {
		if math.IsNaN(sample) {
			continue
		}

		clipped := math.Max(-1, math.Min(1, sample))
		out[i] = int(math.Round(clipped * pcm16MaxSample))
	}

	return out
}

// Duration returns the playback length of n mono samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}

	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
