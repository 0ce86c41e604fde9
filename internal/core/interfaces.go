// Package core defines the core business types and interfaces for the TTS service.
package core

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrNotFound is returned by an ObjectStore when the requested key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrSequenceConsumed is yielded when a chunk sequence is ranged over a second time.
	ErrSequenceConsumed = errors.New("chunk sequence already consumed")
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Chunk is one span of synthesized audio as emitted by a synthesis provider.
// Audio holds the provider's raw array-like payload; it is converted to a dense
// sample buffer by audio.Normalize.
type Chunk struct {
	Graphemes string
	Phonemes  string
	Audio     any
}

// SynthesisRequest holds the immutable input parameters of a single synthesis.
type SynthesisRequest struct {
	Text       string
	Voice      string
	SampleRate int
	Speed      float64
}

// Synthesizer converts text into a lazy, single-use sequence of audio chunks.
// Implementations are constructed once and shared between requests.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (iter.Seq2[Chunk, error], error)
}

// HealthChecker is implemented by synthesizers that can report their availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
