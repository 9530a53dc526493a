// Copyright 2026 The ilogtail-sub016 Authors.
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

// Package logging provides the levelled, package-global loggers used
// across the collection core, backed by zap's SugaredLogger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level enumerates the verbosity levels accepted by InitLoggers.
type Level int

const (
	ErrorLevel Level = iota
	WarnLevel
	InfoLevel
	TraceLevel
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case ErrorLevel:
		return zapcore.ErrorLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case TraceLevel:
		// zap has no Trace level; trace messages are emitted at Debug.
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	// Trace, Info, Warn and Error are package-global loggers, assigned by
	// InitLoggers. Until InitLoggers is called they default to an
	// info-level logger so packages can log during early init/tests
	// without panicking on a nil logger.
	Trace *zap.SugaredLogger
	Info  *zap.SugaredLogger
	Warn  *zap.SugaredLogger
	Error *zap.SugaredLogger
)

func init() {
	InitLoggers(InfoLevel)
}

// InitLoggers (re)configures the package-global loggers at the given
// verbosity. Safe to call multiple times; the last call wins.
func InitLoggers(level Level) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op logger rather than panicking: logging must
		// never be the reason the agent fails to start.
		logger = zap.NewNop()
	}
	sugared := logger.Sugar()

	Trace = sugared.Named("trace")
	Info = sugared.Named("info")
	Warn = sugared.Named("warn")
	Error = sugared.Named("error")
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	for _, l := range []*zap.SugaredLogger{Trace, Info, Warn, Error} {
		if l != nil {
			_ = l.Sync()
		}
	}
}
