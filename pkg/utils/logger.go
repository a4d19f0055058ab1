package pkg

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

func init() {
	Init("info")
}

// Init configures the shared logger in place, so goroutines already holding
// it keep working.
func Init(logLevel string) {
	Logger.SetOutput(os.Stdout)

	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		Logger.SetLevel(logrus.InfoLevel)
		Logger.Warn("Invalid log level, defaulting to info")
	} else {
		Logger.SetLevel(level)
	}
}

// InitDiscard sets up a logger that drops everything. Used by tests.
func InitDiscard() {
	Init("panic")
	Logger.SetOutput(io.Discard)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}
