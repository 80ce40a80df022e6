package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the zap encoder used for log output.
type Format string

const (
	FormatConsole Format = "CONSOLE"
	FormatJSON    Format = "JSON"
)

// Component names used as logger names so log lines can be filtered per subsystem.
const (
	ComponentMain         = "main"
	ComponentConfig       = "config"
	ComponentOrchestrator = "orchestrator"
	ComponentExecutor     = "executor"
	ComponentBreaker      = "circuit-breaker"
	ComponentHandler      = "handler"
	ComponentNotification = "notification"
	ComponentNotifier     = "notifier"
	ComponentEventBus     = "eventbus"
	ComponentHTTP         = "http"
	ComponentGRPC         = "grpc"
	ComponentStorage      = "storage"
)

var once sync.Once

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger writing to stdout at the given level and format.
func New(level string, format Format) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if format == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(parseLevel(level)))
	return zap.New(core, zap.AddCaller())
}

// Initialize installs the process-wide logger from LOGGING_LEVEL and LOGGING_FORMAT.
// Only the first call has any effect.
func Initialize() {
	once.Do(func() {
		level := os.Getenv("LOGGING_LEVEL")
		format := Format(strings.ToUpper(os.Getenv("LOGGING_FORMAT")))
		if format != FormatJSON {
			format = FormatConsole
		}
		zap.ReplaceGlobals(New(level, format))
	})
}

// For returns a sugared logger named after the component.
func For(component string) *zap.SugaredLogger {
	return zap.S().Named(component)
}
