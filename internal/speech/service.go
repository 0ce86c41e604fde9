// Package speech validates synthesis requests and runs them through the
// provider, the assembly pipeline and the artifact store.
package speech

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/kokoro-tts/internal/audio"
	"github.com/book-expert/kokoro-tts/internal/core"
	"github.com/book-expert/kokoro-tts/internal/telemetry"
)

const audioKeyExtension = ".wav"

// Error categories. Every error returned by Synthesize matches exactly one of them.
var (
	// ErrInvalidInput marks requests rejected before the provider is called.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProviderFailure marks failures of the synthesis provider.
	ErrProviderFailure = errors.New("synthesis provider failure")
	// ErrEmptySynthesis marks provider output that carried no audio.
	ErrEmptySynthesis = audio.ErrEmptySynthesis
	// ErrStorage marks failures to encode or persist the result.
	ErrStorage = errors.New("failed to persist synthesized audio")
)

// Validation errors, all wrapping ErrInvalidInput.
var (
	ErrTextEmpty        = fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	ErrSpeedRange       = fmt.Errorf("%w: speed out of range", ErrInvalidInput)
	ErrSampleRateRange  = fmt.Errorf("%w: sample rate out of range", ErrInvalidInput)
	ErrUnsupportedVoice = fmt.Errorf("%w: unsupported voice", ErrInvalidInput)
)

// Request is a single synthesis job. Empty Voice and zero SampleRate take the
// service defaults; Speed is always validated as given.
type Request struct {
	Text       string
	Voice      string
	SampleRate int
	Speed      float64
}

// Result describes a persisted synthesis.
type Result struct {
	Key        string
	WAV        []byte
	Voice      string
	SampleRate int
	Samples    int
	Chunks     int
	Duration   time.Duration
}

// Limits holds request defaults and bounds.
type Limits struct {
	DefaultVoice      string
	DefaultSampleRate int
	DefaultSpeed      float64
	MinSpeed          float64
	MaxSpeed          float64
	Voices            []string
	RestrictVoices    bool
}

// Service runs synthesis requests end to end.
type Service struct {
	provider  core.Synthesizer
	assembler *audio.Assembler
	store     core.ObjectStore
	limits    Limits
	metrics   *telemetry.Metrics
	log       *logger.Logger
}

// NewService wires a service. provider is shared by all requests.
func NewService(
	provider core.Synthesizer,
	assembler *audio.Assembler,
	store core.ObjectStore,
	limits Limits,
	metrics *telemetry.Metrics,
	log *logger.Logger,
) *Service {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	return &Service{
		provider:  provider,
		assembler: assembler,
		store:     store,
		limits:    limits,
		metrics:   metrics,
		log:       log,
	}
}

// Voices returns the configured voice list.
func (s *Service) Voices() []string {
	return slices.Clone(s.limits.Voices)
}

// DefaultVoice returns the voice used when a request names none.
func (s *Service) DefaultVoice() string {
	return s.limits.DefaultVoice
}

// DefaultSpeed returns the speed transports should use when a request omits it.
func (s *Service) DefaultSpeed() float64 {
	return s.limits.DefaultSpeed
}

// Synthesize validates req, synthesizes it, and stores the WAV under a new key.
// Nothing is stored unless the whole pipeline succeeds.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	result, outcome, err := s.synthesize(ctx, s.withDefaults(req))
	s.metrics.RecordRequest(ctx, outcome)

	if err != nil {
		s.log.Warn("Synthesis failed (%s) after %s: %v", outcome, time.Since(start), err)

		return nil, err
	}

	s.metrics.RecordAudio(ctx, result.Chunks, result.Duration.Seconds())
	s.log.Info(
		"Synthesized %s (%d chunks, %d samples, %s audio) in %s",
		result.Key,
		result.Chunks,
		result.Samples,
		result.Duration,
		time.Since(start),
	)

	return result, nil
}

func (s *Service) synthesize(ctx context.Context, req Request) (*Result, string, error) {
	err := s.validate(req)
	if err != nil {
		return nil, telemetry.OutcomeInvalidInput, err
	}

	chunks, err := s.provider.Synthesize(ctx, core.SynthesisRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: req.SampleRate,
		Speed:      req.Speed,
	})
	if err != nil {
		return nil, telemetry.OutcomeProviderError, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	assembly, err := s.assembler.Assemble(chunks, req.SampleRate)
	if err != nil {
		if errors.Is(err, audio.ErrEmptySynthesis) {
			return nil, telemetry.OutcomeEmpty, err
		}

		return nil, telemetry.OutcomeProviderError, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	wav, err := audio.EncodeWAV(assembly.Samples, req.SampleRate)
	if err != nil {
		return nil, telemetry.OutcomeStorageError, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	key := uuid.NewString() + audioKeyExtension

	err = s.store.Upload(ctx, key, wav)
	if err != nil {
		return nil, telemetry.OutcomeStorageError, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return &Result{
		Key:        key,
		WAV:        wav,
		Voice:      req.Voice,
		SampleRate: req.SampleRate,
		Samples:    len(assembly.Samples),
		Chunks:     assembly.Chunks,
		Duration:   audio.Duration(len(assembly.Samples), req.SampleRate),
	}, telemetry.OutcomeSuccess, nil
}

func (s *Service) withDefaults(req Request) Request {
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = s.limits.DefaultVoice
	}

	if req.SampleRate == 0 {
		req.SampleRate = s.limits.DefaultSampleRate
	}

	return req
}

// validate ensures that the request contains valid and safe values.
func (s *Service) validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrTextEmpty
	}

	if math.IsNaN(req.Speed) || req.Speed < s.limits.MinSpeed || req.Speed > s.limits.MaxSpeed {
		return fmt.Errorf(
			"%w: speed must be between %g and %g, got %g",
			ErrSpeedRange,
			s.limits.MinSpeed,
			s.limits.MaxSpeed,
			req.Speed,
		)
	}

	err := audio.ValidateSampleRate(req.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSampleRateRange, err)
	}

	if s.limits.RestrictVoices && !slices.Contains(s.limits.Voices, req.Voice) {
		return fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, req.Voice)
	}

	return nil
}
