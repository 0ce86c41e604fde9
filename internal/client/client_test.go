package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-tts/internal/client"
)

const testAudioData = "RIFF-fake-wav-data"

func speedPtr(v float64) *float64 {
	return &v
}

// TestHTTPClient_GenerateSpeech_Success verifies successful speech generation.
func TestHTTPClient_GenerateSpeech_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello world", body["text"])
		assert.Equal(t, "af_heart", body["voice"])
		assert.InEpsilon(t, 0.65, body["speed"], 0.001)
		assert.NotContains(t, body, "sample_rate")

		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("X-Audio-Key", "abc.wav")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	httpClient := client.NewHTTPClient(server.URL+"/", 10*time.Second)

	speech, err := httpClient.GenerateSpeech(context.Background(), client.Request{
		Text:  "Hello world",
		Voice: "af_heart",
		Speed: speedPtr(0.65),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(testAudioData), speech.WAV)
	assert.Equal(t, "abc.wav", speech.Key)
}

func TestHTTPClient_GenerateSpeech_EmptyText(t *testing.T) {
	t.Parallel()

	httpClient := client.NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := httpClient.GenerateSpeech(context.Background(), client.Request{Text: "  "})
	require.ErrorIs(t, err, client.ErrTextEmpty)
}

func TestHTTPClient_GenerateSpeech_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantErr     error
		wantMessage string
	}{
		{
			name: "structured error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"success":false,"message":"text cannot be empty","code":400,"error_code":"invalid_input"}`))
			},
			wantErr:     client.ErrServiceStatus,
			wantMessage: "TTS service error (400 Bad Request): text cannot be empty (code: invalid_input)",
		},
		{
			name: "raw error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("upstream down"))
			},
			wantErr:     client.ErrServiceStatus,
			wantMessage: "upstream down",
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte("hello"))
			},
			wantMessage: "unexpected content type",
		},
		{
			name: "empty audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
			},
			wantErr: client.ErrEmptyAudio,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(testCase.handler)
			defer server.Close()

			httpClient := client.NewHTTPClient(server.URL, 5*time.Second)

			_, err := httpClient.GenerateSpeech(context.Background(), client.Request{Text: "hi"})
			require.Error(t, err)

			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)
			}

			if testCase.wantMessage != "" {
				assert.Contains(t, err.Error(), testCase.wantMessage)
			}
		})
	}
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool

	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)

		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"success":false,"message":"synthesis provider is unavailable","code":503,"error_code":"provider_unhealthy"}`))

			return
		}

		_, _ = w.Write([]byte(`{"success":true,"message":"ok","code":200}`))
	}))
	defer server.Close()

	httpClient := client.NewHTTPClient(server.URL, 5*time.Second)
	require.NoError(t, httpClient.HealthCheck(context.Background()))

	healthy.Store(false)
	err := httpClient.HealthCheck(context.Background())
	require.ErrorIs(t, err, client.ErrServiceStatus)
	assert.Contains(t, err.Error(), "provider_unhealthy")
}
