package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/kokoro-tts/internal/audio"
	"github.com/book-expert/kokoro-tts/internal/config"
	"github.com/book-expert/kokoro-tts/internal/core"
	"github.com/book-expert/kokoro-tts/internal/httpapi"
	"github.com/book-expert/kokoro-tts/internal/natsserver"
	"github.com/book-expert/kokoro-tts/internal/objectstore"
	"github.com/book-expert/kokoro-tts/internal/provider"
	"github.com/book-expert/kokoro-tts/internal/speech"
	"github.com/book-expert/kokoro-tts/internal/storage"
	"github.com/book-expert/kokoro-tts/internal/telemetry"
	"github.com/book-expert/kokoro-tts/internal/worker"
)

const telemetryShutdownTimeout = 5 * time.Second

type synthesisProvider interface {
	core.Synthesizer
	core.HealthChecker
}

// app owns every long-lived resource of the service.
type app struct {
	cfg *config.Config
	log *logger.Logger

	embedded      *natsserver.EmbeddedServer
	natsConn      *nats.Conn
	telemetry     *telemetry.Provider
	closeProvider func() error

	server *http.Server
	worker *worker.NatsWorker
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	err := a.init(ctx)
	if err != nil {
		a.Close()

		return nil, err
	}

	return a, nil
}

func (a *app) init(ctx context.Context) error {
	metrics, metricsHandler, err := a.setupTelemetry()
	if err != nil {
		return err
	}

	jetstreamContext, err := a.connectNATS()
	if err != nil {
		return err
	}

	store, err := a.openAudioStore(jetstreamContext)
	if err != nil {
		return err
	}

	synth, err := a.startProvider(ctx)
	if err != nil {
		return err
	}

	assembler, err := audio.NewAssembler(a.cfg.AudioSettings())
	if err != nil {
		return fmt.Errorf("failed to create audio assembler: %w", err)
	}

	service := speech.NewService(synth, assembler, store, limitsFrom(a.cfg.TTS), metrics, a.log)

	if a.cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine, err := httpapi.Build(httpapi.Options{
		Service: service,
		Store:   store,
		Health:  synth,
		Metrics: metricsHandler,
		Logger:  a.log,
	})
	if err != nil {
		return fmt.Errorf("failed to build http router: %w", err)
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSecs) * time.Second,
	}

	if a.cfg.NATS.WorkerEnabled {
		return a.setupWorker(jetstreamContext, service)
	}

	return nil
}

func (a *app) setupTelemetry() (*telemetry.Metrics, http.Handler, error) {
	if !a.cfg.Metrics.Enabled {
		return telemetry.NewNoopMetrics(), nil, nil
	}

	telemetryProvider, err := telemetry.New(a.cfg.Metrics.ServiceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.telemetry = telemetryProvider

	return telemetryProvider.Metrics(), telemetryProvider.Handler(), nil
}

func (a *app) connectNATS() (nats.JetStreamContext, error) {
	if !a.cfg.NATS.Enabled() {
		return nil, nil
	}

	embedded, err := natsserver.Start(a.cfg.NATS, a.log)
	if err != nil {
		return nil, err
	}

	a.embedded = embedded

	url := a.cfg.NATS.URL
	if embedded != nil {
		url = embedded.ClientURL()
	}

	natsConnection, err := nats.Connect(url, nats.Name(a.cfg.Metrics.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	a.natsConn = natsConnection

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	a.log.Info("Connected to NATS at %s", url)

	return jetstreamContext, nil
}

func (a *app) openAudioStore(jetstreamContext nats.JetStreamContext) (core.ObjectStore, error) {
	if a.cfg.Storage.Backend == config.StorageNATS {
		store, err := objectstore.New(jetstreamContext, a.cfg.NATS.AudioObjectStoreBucket, objectstore.Options{
			TTL: a.cfg.NATS.AudioTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audio object store: %w", err)
		}

		return store, nil
	}

	store, err := storage.NewFileStore(a.cfg.Storage.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open output directory: %w", err)
	}

	a.log.Info("Writing audio to %s", store.Dir())

	return store, nil
}

func (a *app) startProvider(ctx context.Context) (synthesisProvider, error) {
	if a.cfg.TTS.Provider == config.ProviderHTTP {
		a.log.Info("Using Kokoro HTTP provider at %s", a.cfg.TTS.Endpoint)

		return provider.NewHTTPProvider(a.cfg.TTS.Endpoint, a.cfg.TTS.Model, a.cfg.TTS.Timeout()), nil
	}

	execProvider, err := provider.NewExecProvider(a.cfg.TTS.Command, a.cfg.TTS.LangCode, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec provider: %w", err)
	}

	// The worker outlives the signal context and is stopped by Close.
	err = execProvider.Start(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to start exec provider: %w", err)
	}

	a.closeProvider = execProvider.Close
	a.log.Info("Started Kokoro worker: %s", a.cfg.TTS.Command)

	return execProvider, nil
}

func (a *app) setupWorker(jetstreamContext nats.JetStreamContext, service *speech.Service) error {
	textStore, err := objectstore.New(jetstreamContext, a.cfg.NATS.TextObjectStoreBucket, objectstore.Options{})
	if err != nil {
		return fmt.Errorf("failed to open text object store: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(
		a.natsConn,
		a.cfg.NATS.TextProcessedSubject,
		textStore,
		service,
		worker.Settings{DefaultSpeed: a.cfg.TTS.DefaultSpeed, Timeout: a.cfg.TTS.Timeout()},
		a.log,
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	a.worker = natsWorker

	return nil
}

// Run serves HTTP, and the NATS worker when configured, until ctx is done.
func (a *app) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := a.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		a.log.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second,
		)
		defer cancel()

		err := a.server.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}

		return nil
	})

	if a.worker != nil {
		group.Go(func() error {
			return a.worker.Run(groupCtx)
		})
	}

	return group.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.closeProvider != nil {
		err := a.closeProvider()
		if err != nil {
			a.log.Warn("Failed to stop Kokoro worker: %v", err)
		}
	}

	if a.natsConn != nil {
		a.natsConn.Close()
	}

	a.embedded.Shutdown()

	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()

		err := a.telemetry.Shutdown(ctx)
		if err != nil {
			a.log.Warn("Failed to shut down telemetry: %v", err)
		}
	}
}

func limitsFrom(cfg config.TTSServiceConfig) speech.Limits {
	return speech.Limits{
		DefaultVoice:      cfg.DefaultVoice,
		DefaultSampleRate: cfg.DefaultSampleRate,
		DefaultSpeed:      cfg.DefaultSpeed,
		MinSpeed:          cfg.MinSpeed,
		MaxSpeed:          cfg.MaxSpeed,
		Voices:            cfg.Voices,
		RestrictVoices:    cfg.RestrictVoices,
	}
}
