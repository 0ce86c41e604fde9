package httpapi

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"

	"github.com/book-expert/kokoro-tts/internal/core"
	"github.com/book-expert/kokoro-tts/internal/speech"
)

const (
	headerAudioKey     = "X-Audio-Key"
	contentTypeWAV     = "audio/wav"
	audioKeyExtension  = ".wav"
	speechAttachment   = `attachment; filename="speech.wav"`
	headerDisposition  = "Content-Disposition"
	messageUnavailable = "synthesis provider is unavailable"
)

// TTSRequest is the JSON body of POST /tts. A nil Speed takes the service default.
type TTSRequest struct {
	Text       string   `json:"text"`
	Voice      string   `json:"voice,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
}

// VoicesResponse is the payload of GET /voices.
type VoicesResponse struct {
	DefaultVoice string   `json:"default_voice"`
	Voices       []string `json:"voices"`
}

type handler struct {
	service SpeechService
	store   core.ObjectStore
	health  core.HealthChecker
	log     *logger.Logger
}

func (h *handler) synthesize(c *gin.Context) {
	var body TTSRequest

	err := c.ShouldBindJSON(&body)
	if err != nil {
		RespondError(c, http.StatusBadRequest, codeInvalidRequest, "malformed request body: "+err.Error())

		return
	}

	speed := h.service.DefaultSpeed()
	if body.Speed != nil {
		speed = *body.Speed
	}

	result, err := h.service.Synthesize(c.Request.Context(), speech.Request{
		Text:       body.Text,
		Voice:      body.Voice,
		SampleRate: body.SampleRate,
		Speed:      speed,
	})
	if err != nil {
		status, code := classify(err)
		RespondError(c, status, code, err.Error())

		return
	}

	c.Header(headerDisposition, speechAttachment)
	c.Header(headerAudioKey, result.Key)
	c.Data(http.StatusOK, contentTypeWAV, result.WAV)
}

func (h *handler) audio(c *gin.Context) {
	key := c.Param("key")
	if !validAudioKey(key) {
		RespondError(c, http.StatusBadRequest, codeInvalidKey, "invalid audio key: "+key)

		return
	}

	data, err := h.store.Download(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			RespondError(c, http.StatusNotFound, codeNotFound, "audio not found: "+key)

			return
		}

		h.log.Error("Failed to download audio %s: %v", key, err)
		RespondError(c, http.StatusInternalServerError, codeStorageFailure, "failed to load audio")

		return
	}

	c.Data(http.StatusOK, contentTypeWAV, data)
}

func (h *handler) voices(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, VoicesResponse{
		DefaultVoice: h.service.DefaultVoice(),
		Voices:       h.service.Voices(),
	}, "")
}

func (h *handler) healthCheck(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		err := h.health.HealthCheck(ctx)
		if err != nil {
			h.log.Warn("Health check failed: %v", err)
			RespondError(c, http.StatusServiceUnavailable, codeProviderUnhealthy, messageUnavailable)

			return
		}
	}

	RespondSuccess(c, http.StatusOK, gin.H{"status": "healthy"}, "")
}

// classify maps a synthesis error category to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, speech.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, speech.ErrEmptySynthesis):
		return http.StatusInternalServerError, codeEmptySynthesis
	case errors.Is(err, speech.ErrProviderFailure):
		return http.StatusBadGateway, codeProviderFailure
	case errors.Is(err, speech.ErrStorage):
		return http.StatusInternalServerError, codeStorageFailure
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func validAudioKey(key string) bool {
	return key != "" &&
		filepath.Base(key) == key &&
		!strings.HasPrefix(key, ".") &&
		strings.HasSuffix(key, audioKeyExtension)
}
