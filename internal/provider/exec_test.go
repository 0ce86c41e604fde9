// Package provider_test tests the synthesis providers.
package provider_test

import (
	"context"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-tts/internal/core"
	"github.com/book-expert/kokoro-tts/internal/provider"
)

const (
	chunkingWorker = `sh -c 'while read -r line; do ` +
		`echo "{\"graphemes\":\"Hello\",\"phonemes\":\"hə\",\"audio\":[0.0,0.5]}"; ` +
		`echo "{\"pcm_base64\":\"AEA=\"}"; ` +
		`echo "{\"final\":true}"; done'`
	failingWorker = `sh -c 'while read -r line; do echo "{\"error\":\"unknown voice\"}"; done'`
	dyingWorker   = `sh -c 'read -r line; echo "{\"audio\":[0.5]}"'`
	// Never reads stdin, so a large request fills the pipe.
	stalledWorker = `sh -c 'sleep 3'`
)

var testRequest = core.SynthesisRequest{
	Text:       "Hello world",
	Voice:      "af_heart",
	SampleRate: 24000,
	Speed:      0.65,
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "provider-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	return testLogger
}

func startWorker(t *testing.T, command string) *provider.ExecProvider {
	t.Helper()

	execProvider, err := provider.NewExecProvider(command, "a", newTestLogger(t))
	require.NoError(t, err)

	err = execProvider.Start(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = execProvider.Close()
	})

	return execProvider
}

func collect(chunks iter.Seq2[core.Chunk, error]) ([]core.Chunk, error) {
	var out []core.Chunk

	for chunk, err := range chunks {
		if err != nil {
			return out, err
		}

		out = append(out, chunk)
	}

	return out, nil
}

func TestNewExecProvider_EmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := provider.NewExecProvider("   ", "a", newTestLogger(t))
	require.ErrorIs(t, err, provider.ErrCommandEmpty)
}

func TestExecProvider_SynthesizeBeforeStart(t *testing.T) {
	t.Parallel()

	execProvider, err := provider.NewExecProvider("cat", "a", newTestLogger(t))
	require.NoError(t, err)

	_, err = execProvider.Synthesize(context.Background(), testRequest)
	require.ErrorIs(t, err, provider.ErrNotStarted)
}

func TestExecProvider_StreamsChunks(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, chunkingWorker)

	chunks, err := execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	got, err := collect(chunks)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Hello", got[0].Graphemes)
	assert.Equal(t, "hə", got[0].Phonemes)
	assert.Equal(t, []float64{0.0, 0.5}, got[0].Audio)
	assert.Equal(t, []byte{0x00, 0x40}, got[1].Audio)
}

func TestExecProvider_SequenceIsSingleUse(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, chunkingWorker)

	chunks, err := execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	_, err = collect(chunks)
	require.NoError(t, err)

	_, err = collect(chunks)
	require.ErrorIs(t, err, core.ErrSequenceConsumed)
}

func TestExecProvider_EarlyStopDoesNotDesyncWorker(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, chunkingWorker)

	chunks, err := execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	for range chunks {
		break
	}

	chunks, err = execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	got, err := collect(chunks)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExecProvider_SerializesConcurrentRequests(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, chunkingWorker)

	const callers = 4

	var waitGroup sync.WaitGroup

	counts := make([]int, callers)
	errs := make([]error, callers)

	for i := range callers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			chunks, err := execProvider.Synthesize(context.Background(), testRequest)
			if err != nil {
				errs[i] = err

				return
			}

			got, err := collect(chunks)
			counts[i] = len(got)
			errs[i] = err
		}()
	}

	waitGroup.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, 2, counts[i])
	}
}

func TestExecProvider_WorkerError(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, failingWorker)

	chunks, err := execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	_, err = collect(chunks)
	require.ErrorIs(t, err, provider.ErrWorker)
	assert.Contains(t, err.Error(), "unknown voice")
}

func TestExecProvider_WorkerExit(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, dyingWorker)

	chunks, err := execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	got, err := collect(chunks)
	require.ErrorIs(t, err, provider.ErrProcessExited)
	assert.Len(t, got, 1)

	require.ErrorIs(t, execProvider.HealthCheck(context.Background()), provider.ErrProcessExited)
}

func TestExecProvider_CancelledContext(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, chunkingWorker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks, err := execProvider.Synthesize(ctx, testRequest)
	require.NoError(t, err)

	_, err = collect(chunks)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecProvider_HealthCheckAndClose(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, chunkingWorker)

	require.NoError(t, execProvider.HealthCheck(context.Background()))
	require.NoError(t, execProvider.Close())
	require.Error(t, execProvider.HealthCheck(context.Background()))

	err := execProvider.Start(context.Background())
	require.ErrorIs(t, err, provider.ErrAlreadyStarted)
}

func TestExecProvider_StalledWriteHonoursContext(t *testing.T) {
	t.Parallel()

	execProvider := startWorker(t, stalledWorker)

	request := testRequest
	request.Text = strings.Repeat("a", 1<<20)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	chunks, err := execProvider.Synthesize(ctx, request)
	require.NoError(t, err)

	started := time.Now()
	_, err = collect(chunks)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)

	// The abandoned write still owns the worker.
	queuedCtx, queuedCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer queuedCancel()

	chunks, err = execProvider.Synthesize(queuedCtx, testRequest)
	require.NoError(t, err)

	_, err = collect(chunks)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

const fakeKokoroModule = `class KPipeline:
    def __init__(self, lang_code):
        print("noise on stdout")
        self.lang_code = lang_code

    def __call__(self, text, voice, speed):
        if voice == "missing":
            raise ValueError("unknown voice")
        for word in text.split():
            yield word, word.lower(), [0.0, 0.25 * speed]
`

func TestExecProvider_KokoroWorkerScript(t *testing.T) {
	t.Parallel()

	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}

	moduleDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(moduleDir, "kokoro.py"), []byte(fakeKokoroModule), 0o600))

	script, err := filepath.Abs(filepath.Join("..", "..", "scripts", "kokoro_worker.py"))
	require.NoError(t, err)

	execProvider := startWorker(t, fmt.Sprintf("env 'PYTHONPATH=%s' '%s' '%s'", moduleDir, python, script))

	chunks, err := execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	got, err := collect(chunks)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hello", got[0].Graphemes)
	assert.Equal(t, "hello", got[0].Phonemes)
	assert.Equal(t, "world", got[1].Graphemes)

	samples, ok := got[1].Audio.([]float64)
	require.True(t, ok)
	require.Len(t, samples, 2)
	assert.InDelta(t, 0.25*testRequest.Speed, samples[1], 1e-9)

	failing := testRequest
	failing.Voice = "missing"

	chunks, err = execProvider.Synthesize(context.Background(), failing)
	require.NoError(t, err)

	_, err = collect(chunks)
	require.ErrorIs(t, err, provider.ErrWorker)
	assert.Contains(t, err.Error(), "unknown voice")

	// The worker keeps serving after a failed request.
	chunks, err = execProvider.Synthesize(context.Background(), testRequest)
	require.NoError(t, err)

	got, err = collect(chunks)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
