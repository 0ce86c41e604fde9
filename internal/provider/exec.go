// Package provider implements the synthesis providers the service can call.
package provider

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/mattn/go-shellwords"

	"github.com/book-expert/kokoro-tts/internal/core"
)

const (
	maxLineBytes    = 64 << 20
	initialLineSize = 1 << 20
	closeGrace      = 5 * time.Second
)

var (
	// ErrCommandEmpty is returned when the provider command line has no program.
	ErrCommandEmpty = errors.New("provider command cannot be empty")
	// ErrNotStarted is returned when Synthesize is called before Start.
	ErrNotStarted = errors.New("provider process not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("provider process already started")
	// ErrProcessExited is returned once the worker process has terminated.
	ErrProcessExited = errors.New("provider process exited")
	// ErrWorker wraps an error reported by the worker process itself.
	ErrWorker = errors.New("provider worker error")
)

// execRequest is written as one JSON line to the worker's stdin.
type execRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	LangCode string  `json:"lang_code"`
}

// execLine is one JSON line read from the worker's stdout.
type execLine struct {
	Graphemes string    `json:"graphemes"`
	Phonemes  string    `json:"phonemes"`
	Audio     []float64 `json:"audio"`
	PCMBase64 string    `json:"pcm_base64"`
	Final     bool      `json:"final"`
	Error     string    `json:"error"`
}

// ExecProvider drives one long-lived worker process that holds the loaded voice
// model. The process is not assumed to be thread-safe, so requests are
// serialized: a request owns the process until its terminating line is read.
type ExecProvider struct {
	args     []string
	langCode string
	log      *logger.Logger

	startOnce sync.Once
	started   atomic.Bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	lines     chan []byte
	done      chan struct{}
	waitErr   error
	slot      chan struct{}
}

// NewExecProvider parses command and prepares, but does not start, the worker.
func NewExecProvider(command, langCode string, log *logger.Logger) (*ExecProvider, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true

	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider command: %w", err)
	}

	if len(args) == 0 {
		return nil, ErrCommandEmpty
	}

	return &ExecProvider{
		args:     args,
		langCode: langCode,
		log:      log,
		lines:    make(chan []byte, 16),
		done:     make(chan struct{}),
		slot:     make(chan struct{}, 1),
	}, nil
}

// Start spawns the worker process. ctx bounds the lifetime of the process.
func (p *ExecProvider) Start(ctx context.Context) error {
	err := ErrAlreadyStarted

	p.startOnce.Do(func() {
		err = p.spawn(ctx)
	})

	return err
}

func (p *ExecProvider) spawn(ctx context.Context) error {
	// #nosec G204 -- the command comes from service configuration
	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open provider stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open provider stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open provider stderr: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("failed to start provider command %q: %w", p.args[0], err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.started.Store(true)

	stderrDone := make(chan struct{})

	go p.forwardStderr(stderr, stderrDone)
	go p.readLines(stdout, stderrDone)

	p.log.Info("Synthesis worker started: %s (pid %d)", p.args[0], cmd.Process.Pid)

	return nil
}

func (p *ExecProvider) readLines(stdout io.Reader, stderrDone <-chan struct{}) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, initialLineSize), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		line := make([]byte, len(raw))
		copy(line, raw)
		p.lines <- line
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		// stdout is no longer read, so the worker cannot make progress.
		_ = p.cmd.Process.Kill()
	}

	<-stderrDone

	waitErr := p.cmd.Wait()

	p.waitErr = errors.Join(scanErr, waitErr)
	close(p.done)
	close(p.lines)

	if p.waitErr != nil {
		p.log.Warn("Synthesis worker exited: %v", p.waitErr)
	}
}

func (p *ExecProvider) forwardStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.log.Info("synthesis worker: %s", scanner.Text())
	}
}

// Synthesize queues req for the worker. The returned sequence sends the request
// when iteration begins and yields one chunk per line until the worker reports
// the request as final.
func (p *ExecProvider) Synthesize(ctx context.Context, req core.SynthesisRequest) (iter.Seq2[core.Chunk, error], error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}

	payload, err := json.Marshal(execRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Speed:    req.Speed,
		LangCode: p.langCode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider request: %w", err)
	}

	payload = append(payload, '\n')

	var consumed atomic.Bool

	return func(yield func(core.Chunk, error) bool) {
		if consumed.Swap(true) {
			yield(core.Chunk{}, core.ErrSequenceConsumed)

			return
		}

		p.run(ctx, payload, yield)
	}, nil
}

func (p *ExecProvider) run(ctx context.Context, payload []byte, yield func(core.Chunk, error) bool) {
	err := ctx.Err()
	if err != nil {
		yield(core.Chunk{}, fmt.Errorf("synthesis cancelled: %w", err))

		return
	}

	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		yield(core.Chunk{}, fmt.Errorf("failed to acquire synthesis worker: %w", ctx.Err()))

		return
	case <-p.done:
		yield(core.Chunk{}, p.exitErr())

		return
	}

	written := make(chan error, 1)

	go func() {
		_, writeErr := p.stdin.Write(payload)
		written <- writeErr
	}()

	select {
	case err = <-written:
		if err != nil {
			p.release()
			yield(core.Chunk{}, fmt.Errorf("failed to send request to synthesis worker: %w", err))

			return
		}
	case <-ctx.Done():
		// The slot stays held until the pending write settles.
		go p.settleWrite(written)
		yield(core.Chunk{}, fmt.Errorf("synthesis cancelled while sending request: %w", ctx.Err()))

		return
	}

	finished := p.stream(ctx, yield)
	if finished {
		p.release()

		return
	}

	// The worker is still emitting lines for this request.
	go p.drain()
}

// stream yields chunks for the in-flight request. It reports whether the
// request's terminating line has been read.
func (p *ExecProvider) stream(ctx context.Context, yield func(core.Chunk, error) bool) bool {
	for {
		select {
		case raw, ok := <-p.lines:
			if !ok {
				yield(core.Chunk{}, p.exitErr())

				return true
			}

			var line execLine

			err := parseJSON(raw, &line)
			if err != nil {
				yield(core.Chunk{}, fmt.Errorf("malformed synthesis worker output: %w", err))

				return false
			}

			if line.Error != "" {
				yield(core.Chunk{}, fmt.Errorf("%w: %s", ErrWorker, line.Error))

				return true
			}

			if line.Final {
				return true
			}

			chunk, err := line.chunk()
			if err != nil {
				yield(core.Chunk{}, err)

				return false
			}

			if !yield(chunk, nil) {
				return false
			}
		case <-ctx.Done():
			yield(core.Chunk{}, fmt.Errorf("synthesis cancelled: %w", ctx.Err()))

			return false
		}
	}
}

// settleWrite waits for an abandoned request write. A completed write still
// produces output that must be drained before the next request.
func (p *ExecProvider) settleWrite(written <-chan error) {
	err := <-written
	if err != nil {
		p.release()

		return
	}

	p.drain()
}

func (p *ExecProvider) drain() {
	defer p.release()

	for raw := range p.lines {
		var line execLine

		err := parseJSON(raw, &line)
		if err == nil && (line.Final || line.Error != "") {
			return
		}
	}
}

func (p *ExecProvider) release() {
	<-p.slot
}

func (p *ExecProvider) exitErr() error {
	if p.waitErr != nil {
		return fmt.Errorf("%w: %w", ErrProcessExited, p.waitErr)
	}

	return ErrProcessExited
}

// HealthCheck reports whether the worker process is running.
func (p *ExecProvider) HealthCheck(_ context.Context) error {
	if !p.started.Load() {
		return ErrNotStarted
	}

	select {
	case <-p.done:
		return p.exitErr()
	default:
		return nil
	}
}

// Close ends the worker by closing its stdin, killing it if it does not exit.
func (p *ExecProvider) Close() error {
	if !p.started.Load() {
		return nil
	}

	closeErr := p.stdin.Close()

	select {
	case <-p.done:
	case <-time.After(closeGrace):
		killErr := p.cmd.Process.Kill()
		if killErr != nil {
			return fmt.Errorf("failed to kill synthesis worker: %w", killErr)
		}

		<-p.done
	}

	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && !errors.Is(closeErr, io.ErrClosedPipe) {
		return fmt.Errorf("failed to close synthesis worker stdin: %w", closeErr)
	}

	return nil
}

func (l execLine) chunk() (core.Chunk, error) {
	chunk := core.Chunk{Graphemes: l.Graphemes, Phonemes: l.Phonemes}

	if l.PCMBase64 != "" {
		pcm, err := base64.StdEncoding.DecodeString(l.PCMBase64)
		if err != nil {
			return core.Chunk{}, fmt.Errorf("failed to decode worker pcm: %w", err)
		}

		chunk.Audio = pcm

		return chunk, nil
	}

	chunk.Audio = l.Audio

	return chunk, nil
}
