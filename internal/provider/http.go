package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/book-expert/kokoro-tts/internal/core"
)

// API endpoints of a Kokoro-FastAPI compatible server.
const (
	apiSpeech = "/v1/audio/speech"
	apiHealth = "/health"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	responseFormatPCM = "pcm"
	defaultModel      = "kokoro"

	// pcmBlockBytes is 200ms of 16-bit mono audio at 24kHz.
	pcmBlockBytes = 9600
)

const (
	errFmtServiceDetail    = "speech service error (%s): %s"
	errFmtServiceNonOK     = "speech service returned non-OK status: %s, body: %s"
	errFmtHealthStatus     = "health check failed with status: %s"
	errFmtRequestFailed    = "failed to send request to speech service at %s: %w"
	errFmtHealthFailed     = "health check failed for speech service at %s: %w"
	errFmtReadStreamFailed = "failed to read audio stream: %w"
)

// ErrServiceStatus is returned when the speech service answers with a non-OK status.
var ErrServiceStatus = errors.New("unexpected speech service status")

// speechRequest is the OpenAI-style payload accepted by Kokoro-FastAPI.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
	Stream         bool    `json:"stream"`
}

// serviceError is the FastAPI error body.
type serviceError struct {
	Detail any `json:"detail"`
}

// HTTPProvider synthesizes speech through a remote Kokoro-FastAPI server. The
// server streams raw 16-bit PCM; every block read from the body becomes one chunk.
// It is safe for concurrent use.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewHTTPProvider creates a provider for the server at baseURL
// (e.g. "http://localhost:8880"). timeout bounds each request.
func NewHTTPProvider(baseURL, model string, timeout time.Duration) *HTTPProvider {
	if model == "" {
		model = defaultModel
	}

	return &HTTPProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Synthesize posts req to the server and returns the PCM stream as chunks. The
// response body is closed when iteration ends.
func (p *HTTPProvider) Synthesize(ctx context.Context, req core.SynthesisRequest) (iter.Seq2[core.Chunk, error], error) {
	requestBody, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          req.Voice,
		Speed:          req.Speed,
		ResponseFormat: responseFormatPCM,
		Stream:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.baseURL+apiSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFailed, p.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return streamPCM(resp.Body), nil
}

func streamPCM(body io.ReadCloser) iter.Seq2[core.Chunk, error] {
	var consumed atomic.Bool

	return func(yield func(core.Chunk, error) bool) {
		if consumed.Swap(true) {
			yield(core.Chunk{}, core.ErrSequenceConsumed)

			return
		}

		defer body.Close()

		for {
			block := make([]byte, pcmBlockBytes)

			n, err := io.ReadFull(body, block)
			if n > 0 {
				if !yield(core.Chunk{Audio: block[:n]}, nil) {
					return
				}
			}

			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}

			if err != nil {
				yield(core.Chunk{}, fmt.Errorf(errFmtReadStreamFailed, err))

				return
			}
		}
	}
}

// HealthCheck verifies that the speech server is reachable and healthy.
func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtHealthFailed, p.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: "+errFmtHealthStatus, ErrServiceStatus, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a FastAPI error body, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp serviceError

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != nil {
		return fmt.Errorf("%w: "+errFmtServiceDetail, ErrServiceStatus, resp.Status, fmt.Sprint(errorResp.Detail))
	}

	return fmt.Errorf("%w: "+errFmtServiceNonOK, ErrServiceStatus, resp.Status, string(body))
}
