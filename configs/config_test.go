package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, config.Ingest.PollAttempts)
	assert.Equal(t, 100*time.Millisecond, config.Ingest.PollInterval)
	assert.Equal(t, 200, config.Chat.HistorySize)
	assert.Equal(t, 500, config.Chat.MaxMessageLength)
	assert.Equal(t, "/hls", config.Stream.HLSBaseURL)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("INGEST_HTTP_PORT", "9001")
	t.Setenv("INGEST_BACKEND_URL", "http://api:8080/")
	t.Setenv("INGEST_POLL_INTERVAL", "250ms")
	t.Setenv("CHAT_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_MEMORY", "true")
	t.Setenv("CHAT_MESSAGES_PER_SECOND", "not-a-number")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", config.ListenAddr())
	assert.Equal(t, "127.0.0.1:9001", config.IngestListenAddr())
	assert.Equal(t, "http://api:8080", config.Ingest.BackendURL)
	assert.Equal(t, 250*time.Millisecond, config.Ingest.PollInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Chat.AllowedOrigins)
	assert.True(t, config.Database.Memory)
	assert.Equal(t, float64(5), config.Chat.MessagesPerSecond)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		config, err := LoadConfig()
		require.NoError(t, err)
		config.JWT.Secret = "0123456789abcdef0123456789abcdef"
		config.Ingest.InternalToken = "internal"
		return config
	}

	assert.NoError(t, valid().Validate())

	short := valid()
	short.JWT.Secret = "short"
	assert.Error(t, short.Validate())

	noToken := valid()
	noToken.Ingest.InternalToken = ""
	assert.Error(t, noToken.Validate())

	noPoll := valid()
	noPoll.Ingest.PollAttempts = 0
	assert.Error(t, noPoll.Validate())

	noHistory := valid()
	noHistory.Chat.HistorySize = 0
	assert.Error(t, noHistory.Validate())
}
