package audio_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-tts/internal/audio"
)

func TestEncodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []float64{0, 0.5, -0.5, 1, -1, 2, -2}

	data, err := audio.EncodeWAV(samples, 24000)
	require.NoError(t, err)

	decoder := wav.NewDecoder(bytes.NewReader(data))
	pcm, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(24000), decoder.SampleRate)
	assert.Equal(t, uint16(1), decoder.NumChans)
	assert.Equal(t, uint16(16), decoder.BitDepth)
	assert.Equal(t, []int{0, 16384, -16384, 32767, -32767, 32767, -32767}, pcm.Data)
}

func TestEncodeWAV_RejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV(nil, 24000)
	require.ErrorIs(t, err, audio.ErrEmptySynthesis)
}

func TestEncodeWAV_RejectsBadSampleRate(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV([]float64{0.1}, 0)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)

	_, err = audio.EncodeWAV([]float64{0.1}, audio.MAX_SAMPLE_RATE+1)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, audio.Duration(24000, 24000))
	assert.Equal(t, 500*time.Millisecond, audio.Duration(12000, 24000))
	assert.Equal(t, time.Duration(0), audio.Duration(100, 0))
}
