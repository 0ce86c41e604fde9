package audio_test

import (
	"errors"
	"iter"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-tts/internal/audio"
	"github.com/book-expert/kokoro-tts/internal/core"
)

var errStreamBroken = errors.New("stream broken")

func chunksOf(payloads ...any) iter.Seq2[core.Chunk, error] {
	return func(yield func(core.Chunk, error) bool) {
		for _, payload := range payloads {
			if !yield(core.Chunk{Graphemes: "g", Phonemes: "p", Audio: payload}, nil) {
				return
			}
		}
	}
}

func newTestAssembler(t *testing.T, fadeMS float64) *audio.Assembler {
	t.Helper()

	settings := audio.NewDefaultSettings()
	settings.FadeMS = fadeMS

	assembler, err := audio.NewAssembler(settings)
	require.NoError(t, err)

	return assembler
}

func TestAssemble_SilenceThenTone(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, audio.DEFAULT_FADE_MS)
	payload := append(silence(24000), tone(100, 0.5)...)

	result, err := assembler.Assemble(chunksOf(payload), 24000)
	require.NoError(t, err)

	samples := result.Samples
	require.GreaterOrEqual(t, len(samples), 100)
	assert.Len(t, samples, 100+audio.DEFAULT_BACKTRACK_SAMPLES)
	assert.Zero(t, samples[0])

	for i, sample := range samples[len(samples)-100:] {
		assert.NotZero(t, sample, "sample %d of the tail", i)
	}
}

func TestAssemble_NoChunks(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, audio.DEFAULT_FADE_MS)

	_, err := assembler.Assemble(chunksOf(), 24000)
	require.ErrorIs(t, err, audio.ErrEmptySynthesis)
}

func TestAssemble_OnlyEmptyChunks(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, audio.DEFAULT_FADE_MS)

	_, err := assembler.Assemble(chunksOf(nil, []float32{}, []byte{}), 24000)
	require.ErrorIs(t, err, audio.ErrEmptySynthesis)
}

func TestAssemble_DropsEmptyChunksKeepsOrder(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, 0)
	result, err := assembler.Assemble(chunksOf([]float64{}, []float64{0.1, 0.2}, nil, []float64{0.3}), 24000)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.1, 0.2, 0.3}, result.Samples)
	assert.Equal(t, 2, result.Chunks)
	assert.Equal(t, 4, result.Received)
}

func TestAssemble_TrimFirstChunkMatchesTrimOfConcatenation(t *testing.T) {
	t.Parallel()

	first := append(silence(300), tone(40, 0.2)...)
	second := tone(30, -0.3)
	third := append(silence(50), tone(10, 0.1)...)

	joined := append(append(append([]float64{}, first...), second...), third...)
	wholeTrim := audio.TrimLeadingSilence(joined, testThreshold, testBacktrack)

	trimmedFirst := audio.TrimLeadingSilence(append([]float64{}, first...), testThreshold, testBacktrack)
	pieceTrim := append(append(append([]float64{}, trimmedFirst...), second...), third...)

	assert.Equal(t, wholeTrim, pieceTrim)

	assembler := newTestAssembler(t, 0)
	result, err := assembler.Assemble(chunksOf(first, second, third), 24000)
	require.NoError(t, err)
	assert.Equal(t, wholeTrim, result.Samples)
}

func TestAssemble_SilentFirstChunkTrimmedAfterJoin(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, 0)
	result, err := assembler.Assemble(chunksOf(silence(100), append(silence(20), tone(5, 0.5)...)), 24000)
	require.NoError(t, err)

	// onset at 120 in the joined buffer, 10 samples of backtrack kept
	assert.Len(t, result.Samples, 15)
}

func TestAssemble_AppliesSingleFade(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, 5)
	result, err := assembler.Assemble(chunksOf(tone(10, 1)), 1000)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{0, 0.25, 0.5, 0.75, 1, 1, 1, 1, 1, 1}, result.Samples, 1e-12)
}

func TestAssemble_PropagatesStreamError(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t, audio.DEFAULT_FADE_MS)
	broken := func(yield func(core.Chunk, error) bool) {
		if !yield(core.Chunk{Audio: tone(10, 0.5)}, nil) {
			return
		}

		yield(core.Chunk{}, errStreamBroken)
	}

	_, err := assembler.Assemble(broken, 24000)
	require.ErrorIs(t, err, errStreamBroken)
	assert.NotErrorIs(t, err, audio.ErrEmptySynthesis)
}

func TestNewAssembler_RejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := []audio.Settings{
		{SilenceThreshold: -1, BacktrackSamples: 10, FadeMS: 15},
		{SilenceThreshold: 1e-4, BacktrackSamples: -1, FadeMS: 15},
		{SilenceThreshold: 1e-4, BacktrackSamples: 10, FadeMS: -5},
		{SilenceThreshold: 1e-4, BacktrackSamples: 10, FadeMS: audio.MAX_FADE_MS + 1},
		{SilenceThreshold: math.NaN(), BacktrackSamples: 10, FadeMS: 15},
		{SilenceThreshold: 1e-4, BacktrackSamples: 10, FadeMS: math.NaN()},
	}

	for _, settings := range tests {
		_, err := audio.NewAssembler(settings)
		require.ErrorIs(t, err, audio.ErrInvalidSettings)
	}
}

func TestSettingsValidate_RejectsNaN(t *testing.T) {
	t.Parallel()

	settings := audio.NewDefaultSettings()
	settings.SilenceThreshold = math.NaN()
	require.ErrorIs(t, settings.Validate(), audio.ErrInvalidSettings)

	settings = audio.NewDefaultSettings()
	settings.FadeMS = math.NaN()
	require.ErrorIs(t, settings.Validate(), audio.ErrInvalidSettings)

	require.NoError(t, audio.NewDefaultSettings().Validate())
}
