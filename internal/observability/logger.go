package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger. Only the first call
// takes effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		var out io.Writer = os.Stdout
		if pretty {
			// Pretty console output for development
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		initLogger(out, level)
	})
}

func initLogger(out io.Writer, level string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	globalLogger = zerolog.New(out).With().Timestamp().Str("service", ServiceName).Logger()

	// Set as global logger
	log.Logger = globalLogger
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	// Initialize with defaults if not already initialized
	InitLogger("info", false)
	return globalLogger
}

// WithComponent creates a logger for one subsystem
func WithComponent(component string) zerolog.Logger {
	return GetLogger().With().Str("component", component).Logger()
}

// WithClientID creates a logger for one live caption session
func WithClientID(clientID string) zerolog.Logger {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return GetLogger().With().Str("client_id", clientID).Logger()
}

// WithJobID creates a logger for one async transcription job
func WithJobID(jobID string) zerolog.Logger {
	return GetLogger().With().Str("job_id", jobID).Logger()
}
