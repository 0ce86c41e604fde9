package natsserver_test

import (
	"testing"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-tts/internal/config"
	"github.com/book-expert/kokoro-tts/internal/natsserver"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "natsserver-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	return testLogger
}

func TestStart_Disabled(t *testing.T) {
	t.Parallel()

	embedded, err := natsserver.Start(config.NATSConfig{Embedded: false}, newTestLogger(t))
	require.NoError(t, err)
	assert.Nil(t, embedded)

	// Shutdown is safe on the nil server.
	embedded.Shutdown()
}

func TestStart_JetStreamAvailable(t *testing.T) {
	t.Parallel()

	embedded, err := natsserver.Start(config.NATSConfig{
		Embedded:     true,
		EmbeddedPort: -1,
		StoreDir:     t.TempDir(),
	}, newTestLogger(t))
	require.NoError(t, err)
	require.NotNil(t, embedded)
	t.Cleanup(embedded.Shutdown)

	natsConnection, err := nats.Connect(embedded.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	_, err = jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{Bucket: "readiness", Storage: nats.MemoryStorage})
	require.NoError(t, err)
}
