// main package for the kokoro-tts command-line client
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/kokoro-tts/internal/client"
)

// Flag descriptions.
const (
	flagServerDesc     = "Base URL of the kokoro-tts service"
	flagTextDesc       = "Text to convert to speech"
	flagVoiceDesc      = "Voice name (service default when empty)"
	flagSpeedDesc      = "Speech speed (service default when zero)"
	flagSampleRateDesc = "Output sample rate in Hz (service default when zero)"
	flagOutputDesc     = "Output file path (.wav)"
	flagTimeoutDesc    = "Request timeout"
	flagHealthDesc     = "Check TTS service health and exit"
)

// Flag names.
const (
	flagServer     = "server"
	flagText       = "text"
	flagVoice      = "voice"
	flagSpeed      = "speed"
	flagSampleRate = "sample-rate"
	flagOutput     = "output"
	flagTimeout    = "timeout"
	flagHealth     = "health"
)

// Messages.
const (
	msgServiceHealthy = "TTS service is healthy"
	msgGenerated      = "Generated: %s (key %s, %d bytes)\n"
)

const (
	defaultServer  = "http://localhost:8000"
	defaultOutput  = "speech.wav"
	defaultTimeout = 2 * time.Minute
	outputFileMode = 0o600
	outputDirMode  = 0o750
)

// ErrTextRequired indicates that neither --text nor --health was given.
var ErrTextRequired = errors.New("--text must be provided")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server     string
	text       string
	voice      string
	speed      float64
	sampleRate int
	output     string
	timeout    time.Duration
	health     bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	err = run(context.Background(), flags, os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("tts-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.Float64Var(&flags.speed, flagSpeed, 0, flagSpeedDesc)
	flagSet.IntVar(&flags.sampleRate, flagSampleRate, 0, flagSampleRateDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutput, flagOutputDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// run is the application entry point, returning an error on failure.
func run(ctx context.Context, flags appFlags, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	httpClient := client.NewHTTPClient(flags.server, flags.timeout)

	if flags.health {
		err := httpClient.HealthCheck(ctx)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		_, _ = fmt.Fprintln(stdout, msgServiceHealthy)

		return nil
	}

	if flags.text == "" {
		return ErrTextRequired
	}

	req := client.Request{
		Text:       flags.text,
		Voice:      flags.voice,
		SampleRate: flags.sampleRate,
	}

	if flags.speed != 0 {
		req.Speed = &flags.speed
	}

	speech, err := httpClient.GenerateSpeech(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	err = writeOutput(flags.output, speech.WAV)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, msgGenerated, flags.output, speech.Key, len(speech.WAV))

	return nil
}

func writeOutput(path string, data []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, outputDirMode)
	if err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	err = os.WriteFile(path, data, outputFileMode)
	if err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}

	return nil
}
