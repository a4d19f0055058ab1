package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server struct {
		Port int
		Host string
	}
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		// Memory keeps every store in process. Only meant for local runs.
		Memory bool
	}
	Redis struct {
		URL     string
		Channel string
	}
	RTMP struct {
		Port             int
		HandshakeTimeout time.Duration
		MaxConnections   int
	}
	Ingest struct {
		HTTPPort       int
		BackendURL     string
		InternalToken  string
		RequestTimeout time.Duration
		PollAttempts   int
		PollInterval   time.Duration
	}
	Chat struct {
		HistorySize       int
		MaxMessageLength  int
		TimeoutSweep      time.Duration
		MessagesPerSecond float64
		MessageBurst      int
		AllowedOrigins    []string
	}
	Stream struct {
		HLSPath     string
		HLSBaseURL  string
		MaxSegments int
	}
	JWT struct {
		Secret string
		Issuer string
	}
	FFmpeg struct {
		Path string
	}
	LogLevel string
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	// Server config
	config.Server.Port = getEnvAsInt("SERVER_PORT", 8080)
	config.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")

	// Database config
	config.Database.Host = getEnv("DB_HOST", "localhost")
	config.Database.Port = getEnvAsInt("DB_PORT", 5432)
	config.Database.User = getEnv("DB_USER", "postgres")
	config.Database.Password = getEnv("DB_PASSWORD", "")
	config.Database.DBName = getEnv("DB_NAME", "livecast")
	config.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	config.Database.Memory = getEnvAsBool("DB_MEMORY", false)

	// Redis config
	config.Redis.URL = getEnv("REDIS_URL", "")
	config.Redis.Channel = getEnv("REDIS_CHAT_CHANNEL", "livecast:chat")

	// RTMP config
	config.RTMP.Port = getEnvAsInt("RTMP_PORT", 1935)
	config.RTMP.HandshakeTimeout = getEnvAsDuration("RTMP_HANDSHAKE_TIMEOUT", 10*time.Second)
	config.RTMP.MaxConnections = getEnvAsInt("RTMP_MAX_CONNECTIONS", 100)

	// Ingest bridge config
	config.Ingest.HTTPPort = getEnvAsInt("INGEST_HTTP_PORT", 8081)
	config.Ingest.BackendURL = strings.TrimRight(getEnv("INGEST_BACKEND_URL", "http://localhost:8080"), "/")
	config.Ingest.InternalToken = getEnv("INTERNAL_API_TOKEN", "")
	config.Ingest.RequestTimeout = getEnvAsDuration("INGEST_REQUEST_TIMEOUT", 5*time.Second)
	config.Ingest.PollAttempts = getEnvAsInt("INGEST_POLL_ATTEMPTS", 10)
	config.Ingest.PollInterval = getEnvAsDuration("INGEST_POLL_INTERVAL", 100*time.Millisecond)

	// Chat config
	config.Chat.HistorySize = getEnvAsInt("CHAT_HISTORY_SIZE", 200)
	config.Chat.MaxMessageLength = getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", 500)
	config.Chat.TimeoutSweep = getEnvAsDuration("CHAT_TIMEOUT_SWEEP", 5*time.Minute)
	config.Chat.MessagesPerSecond = getEnvAsFloat("CHAT_MESSAGES_PER_SECOND", 5)
	config.Chat.MessageBurst = getEnvAsInt("CHAT_MESSAGE_BURST", 10)
	config.Chat.AllowedOrigins = splitList(getEnv("CHAT_ALLOWED_ORIGINS", ""))

	// Stream config
	config.Stream.HLSPath = getEnv("HLS_PATH", "")
	config.Stream.HLSBaseURL = strings.TrimRight(getEnv("HLS_BASE_URL", "/hls"), "/")
	config.Stream.MaxSegments = getEnvAsInt("HLS_MAX_SEGMENTS", 10)

	// JWT config
	config.JWT.Secret = getEnv("JWT_SECRET", "")
	config.JWT.Issuer = getEnv("JWT_ISSUER", "livecast")

	// FFmpeg config
	config.FFmpeg.Path = getEnv("FFMPEG_PATH", "")

	config.LogLevel = getEnv("LOG_LEVEL", "info")

	return config, nil
}

// Validate checks settings both binaries depend on.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}
	if c.Ingest.InternalToken == "" {
		return fmt.Errorf("INTERNAL_API_TOKEN is required")
	}
	if c.Ingest.PollAttempts < 1 {
		return fmt.Errorf("INGEST_POLL_ATTEMPTS must be positive")
	}
	if c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("INGEST_POLL_INTERVAL must be positive")
	}
	if c.Chat.HistorySize < 1 {
		return fmt.Errorf("CHAT_HISTORY_SIZE must be positive")
	}
	if c.Chat.MaxMessageLength < 1 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_LENGTH must be positive")
	}
	return nil
}

// GetDatabaseURL returns the formatted database connection string
func (c *Config) GetDatabaseURL() string {
	return "user=" + c.Database.User +
		" password=" + c.Database.Password +
		" host=" + c.Database.Host +
		" port=" + strconv.Itoa(c.Database.Port) +
		" dbname=" + c.Database.DBName +
		" sslmode=" + c.Database.SSLMode
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// IngestListenAddr returns host:port for the ingest status server
func (c *Config) IngestListenAddr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Ingest.HTTPPort)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(input string) []string {
	if input == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
