// Package httpapi exposes the synthesis service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/book-expert/kokoro-tts/internal/core"
	"github.com/book-expert/kokoro-tts/internal/speech"
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrServiceRequired indicates that no speech service was supplied.
	ErrServiceRequired = errors.New("http router requires a speech service")
	// ErrStoreRequired indicates that no artifact store was supplied.
	ErrStoreRequired = errors.New("http router requires an artifact store")
	// ErrLoggerRequired indicates that no logger was supplied.
	ErrLoggerRequired = errors.New("http router requires a logger")
)

// SpeechService is the synthesis capability served by the router.
type SpeechService interface {
	Synthesize(ctx context.Context, req speech.Request) (*speech.Result, error)
	Voices() []string
	DefaultVoice() string
	DefaultSpeed() float64
}

// Options configures the HTTP router builder. Health and Metrics are optional.
type Options struct {
	Service SpeechService
	Store   core.ObjectStore
	Health  core.HealthChecker
	Metrics http.Handler
	Logger  *logger.Logger
}

// Build constructs a gin engine with recovery, logging and CORS middleware and
// the synthesis routes.
func Build(opts Options) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, ErrServiceRequired
	}

	if opts.Store == nil {
		return nil, ErrStoreRequired
	}

	if opts.Logger == nil {
		return nil, ErrLoggerRequired
	}

	engine := gin.New()
	engine.Use(recoveryMiddleware(opts.Logger))
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", headerAudioKey},
		MaxAge:        12 * time.Hour,
	}))

	err := engine.SetTrustedProxies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to configure trusted proxies: %w", err)
	}

	h := &handler{
		service: opts.Service,
		store:   opts.Store,
		health:  opts.Health,
		log:     opts.Logger,
	}

	engine.POST("/tts", h.synthesize)
	engine.GET("/audio/:key", h.audio)
	engine.GET("/voices", h.voices)
	engine.GET("/health", h.healthCheck)

	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	return engine, nil
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info(
			"[HTTP] %s %s -> %d (%s)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

func recoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error("Recovered from panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		RespondError(c, http.StatusInternalServerError, codeInternal, "internal server error")
	})
}
