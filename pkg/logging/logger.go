// Package logging provides structured logging functionality using Zap and OpenTelemetry bridge
package logging

import (
	"dlob_engine/internal/core"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements the ILogger interface using zap.Logger
type ZapLogger struct {
	logger *zap.Logger
}

type options struct {
	service string
	json    bool
	out     io.Writer
	otel    bool
}

// Option customizes NewZapLogger
type Option func(*options)

// WithService sets the instrumentation scope name used by the OTel bridge
func WithService(name string) Option {
	return func(o *options) { o.service = name }
}

// WithJSON switches the console encoder to JSON
func WithJSON() Option {
	return func(o *options) { o.json = true }
}

// WithOutput redirects the local core away from stdout
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithoutOTel drops the OTel bridge core
func WithoutOTel() Option {
	return func(o *options) { o.otel = false }
}

// NewZapLogger creates a logger tee'd to stdout and the global OTel logger provider
func NewZapLogger(levelStr string, opts ...Option) (*ZapLogger, error) {
	zapLevel, err := zapcore.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelStr)
	}

	o := options{service: "dlob_engine", out: os.Stdout, otel: true}
	for _, opt := range opts {
		opt(&o)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	if o.json {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(o.out), zapLevel)}
	if o.otel {
		cores = append(cores, otelzap.NewCore(o.service, otelzap.WithLoggerProvider(global.GetLoggerProvider())))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{logger: logger}, nil
}

// convertToZapFields converts alternating key/value pairs to zap fields
func convertToZapFields(fields []interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		if err, ok := fields[i+1].(error); ok {
			zapFields = append(zapFields, zap.NamedError(key, err))
			continue
		}
		zapFields = append(zapFields, zap.Any(key, fields[i+1]))
	}
	return zapFields
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatal(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{logger: l.logger.With(convertToZapFields([]interface{}{key, value})...)}
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) core.ILogger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, convertToZapFields([]interface{}{k, v})...)
	}
	return &ZapLogger{logger: l.logger.With(zapFields...)}
}

// Zap exposes the underlying logger for libraries that take one
func (l *ZapLogger) Zap() *zap.Logger {
	return l.logger
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Global logger instance
var globalLogger core.ILogger

func init() {
	logger, _ := NewZapLogger("INFO")
	globalLogger = logger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger core.ILogger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() core.ILogger {
	return globalLogger
}
