package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/runbox/config"
)

// Field keys shared by every component that logs about an execution
const (
	FieldRequestID = "request_id"
	FieldLanguage  = "language"
	FieldStage     = "stage"
)

// stdout may carry the MCP stdio transport
const defaultOutput = "stderr"

// NewFromConfig creates the application logger from the logging section
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level)
}

// New creates a logger for mode (development or production) at level
func New(mode, level string) (*zap.Logger, error) {
	return build(mode, level, defaultOutput)
}

func build(mode, level, output string) (*zap.Logger, error) {
	cfg, err := modeConfig(mode)
	if err != nil {
		return nil, err
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{defaultOutput}

	return cfg.Build()
}

func modeConfig(mode string) (zap.Config, error) {
	switch mode {
	case "development":
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg, nil
	case "production":
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// Program failures are logged at error level without stacks
		cfg.DisableStacktrace = true
		return cfg, nil
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}
}

// ForExecution returns a child logger tagged with the execution's request id and language
func ForExecution(log *zap.Logger, requestID, language string) *zap.Logger {
	return log.With(zap.String(FieldRequestID, requestID), zap.String(FieldLanguage, language))
}
