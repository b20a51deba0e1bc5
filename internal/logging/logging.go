// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package logging wraps zap behind the small interface the rest of the
// call bridge depends on, so packages never import zap directly.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Logger is the structured logging contract used throughout the call
// bridge. Per-call code derives a child logger via With and attaches it
// to the call's context for the life of the session.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})

	Info(args ...interface{})
	Error(args ...interface{})

	// With returns a child logger carrying the given key/value pairs on
	// every subsequent entry.
	With(kv ...interface{}) Logger

	// Benchmark records how long a named stage took. Call sites treat this
	// as a log line, not a metric export — no persistence beyond the
	// process per the Non-goals.
	Benchmark(stage string, d time.Duration)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production zap-backed Logger.
func New() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *zapLogger) Error(args ...interface{}) { l.s.Error(args...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Benchmark(stage string, d time.Duration) {
	l.s.Infow("benchmark", "stage", stage, "duration_ms", d.Milliseconds())
}
