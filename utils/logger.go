package utils

import (
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogFile receives engine logs next to stdout. Errors also go to a
// sibling "-error" file.
const DefaultLogFile = "arbengine.log"

var (
	log  *zap.Logger
	once sync.Once
)

// InitLogger builds the process logger once. An empty logFile logs to
// stdout only. When the file cannot be opened the engine keeps running
// with stdout logging.
func InitLogger(debug bool, logFile string) *zap.Logger {
	once.Do(func() {
		config := logConfig(debug, logFile)
		logger, err := config.Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		if err != nil {
			config = logConfig(debug, "")
			if logger, err = config.Build(); err != nil {
				logger = zap.NewNop()
			}
		}

		log = logger.With(zap.String("service", "arbengine"))
	})

	return log
}

func logConfig(debug bool, logFile string) zap.Config {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, errorLogFile(logFile))
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"
	return config
}

// errorLogFile maps logs/arbengine.log to logs/arbengine-error.log
func errorLogFile(logFile string) string {
	ext := filepath.Ext(logFile)
	return strings.TrimSuffix(logFile, ext) + "-error" + ext
}

// GetLogger returns the process logger, building a stdout one on first use
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false, "")
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
