package audio

import (
	"fmt"
	"iter"

	"github.com/book-expert/kokoro-tts/internal/core"
)

// Assembler drives the post-processing pipeline over one chunk sequence.
type Assembler struct {
	settings Settings
}

// Assembly is the result of a successful Assemble call.
type Assembly struct {
	Samples []float64
	// Chunks is the number of non-empty chunks that were concatenated.
	Chunks int
	// Received is the number of chunks read from the sequence.
	Received int
}

// NewAssembler validates settings and returns an Assembler using them.
func NewAssembler(settings Settings) (*Assembler, error) {
	err := settings.Validate()
	if err != nil {
		return nil, err
	}

	return &Assembler{settings: settings}, nil
}

// Assemble consumes chunks in order and returns one trimmed, faded buffer.
// It returns ErrEmptySynthesis when no chunk carries any samples, and the wrapped
// sequence error when the provider fails mid-stream.
func (a *Assembler) Assemble(chunks iter.Seq2[core.Chunk, error], sampleRate int) (*Assembly, error) {
	var (
		retained [][]float64
		total    int
		received int
	)

	for chunk, err := range chunks {
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", received, err)
		}

		received++

		buf := Normalize(chunk.Audio)
		if len(buf) == 0 {
			continue
		}

		if len(retained) == 0 {
			buf = a.trimFirst(buf)
			if len(buf) == 0 {
				continue
			}
		}

		retained = append(retained, buf)
		total += len(buf)
	}

	if len(retained) == 0 {
		return nil, fmt.Errorf("%w: %d chunks received, none carried audio", ErrEmptySynthesis, received)
	}

	samples := make([]float64, 0, total)
	for _, buf := range retained {
		samples = append(samples, buf...)
	}

	// A silent first chunk survives the first trim, so the joined buffer may
	// still start with silence.
	samples = TrimLeadingSilence(samples, a.settings.SilenceThreshold, a.settings.BacktrackSamples)
	samples = ApplyFadeIn(samples, sampleRate, a.settings.FadeMS)

	return &Assembly{
		Samples:  samples,
		Chunks:   len(retained),
		Received: received,
	}, nil
}

func (a *Assembler) trimFirst(buf []float64) []float64 {
	trimmed := TrimLeadingSilence(buf, a.settings.SilenceThreshold, a.settings.BacktrackSamples)
	if len(trimmed) == 0 {
		return buf
	}

	return trimmed
}
