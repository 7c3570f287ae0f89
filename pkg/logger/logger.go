// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide zap logger and hands out
// component-scoped sugared loggers.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat selects the zap encoder.
type LogFormat string

const (
	// FormatConsole is a human-readable, colored format.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON is a structured format for log shippers.
	FormatJSON LogFormat = "JSON"
)

var (
	initOnce    sync.Once
	initialized bool
	initMu      sync.Mutex
)

// ParseLevel maps LOGGING_LEVEL values onto zap levels. PRODUCTION is an
// alias for INFO. Unknown values fall back to INFO.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG", "DEVELOPMENT":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "INFO", "PRODUCTION":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseFormat maps LOGGING_FORMAT values onto a LogFormat, defaulting to fallback.
func ParseFormat(format string, fallback LogFormat) LogFormat {
	switch LogFormat(strings.ToUpper(format)) {
	case FormatConsole:
		return FormatConsole
	case FormatJSON:
		return FormatJSON
	default:
		return fallback
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New builds a logger writing to stdout.
func New(logLevel string, logFormat LogFormat) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if logFormat == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(ParseLevel(logLevel)))

	return zap.New(core, zap.AddCaller())
}

// Initialize reads LOGGING_LEVEL and LOGGING_FORMAT and replaces the zap globals.
// Only the first call has an effect.
func Initialize() {
	initOnce.Do(func() {
		level := os.Getenv("LOGGING_LEVEL")
		if level == "" {
			level = "PRODUCTION"
		}
		format := ParseFormat(os.Getenv("LOGGING_FORMAT"), FormatJSON)

		log := New(level, format)
		log.Info("Logger initialized", zap.String("level", level), zap.String("format", string(format)))
		zap.ReplaceGlobals(log)

		initMu.Lock()
		initialized = true
		initMu.Unlock()
	})
}

// InitTestLogging installs a development logger for test suites.
func InitTestLogging() {
	initOnce.Do(func() {
		zap.ReplaceGlobals(New("DEBUG", FormatConsole))

		initMu.Lock()
		initialized = true
		initMu.Unlock()
	})
}

func isInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()

	return initialized
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}

// For returns a named logger for a component.
func For(component string) *zap.SugaredLogger {
	if !isInitialized() {
		Initialize()
	}

	return zap.S().Named(component)
}
