package logging

import (
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base atomic.Pointer[zap.Logger]

func init() { base.Store(zap.NewNop()) }

// Init installs a JSON production logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level.SetLevel(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	base.Store(l)
	return nil
}

// Set replaces the logger; tests use it with zaptest/observer loggers.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

// L returns the current logger.
func L() *zap.Logger { return base.Load() }

// Sync flushes buffered entries.
func Sync() { _ = L().Sync() }

func toFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

func Debug(msg string, fields map[string]any) { L().Debug(msg, toFields(fields)...) }
func Info(msg string, fields map[string]any)  { L().Info(msg, toFields(fields)...) }
func Warn(msg string, fields map[string]any)  { L().Warn(msg, toFields(fields)...) }
func Error(msg string, fields map[string]any) { L().Error(msg, toFields(fields)...) }

var sensitive = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"x-api-key":     {},
}

// SafeHeaders returns the first value of each header with credentials redacted.
func SafeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		if _, ok := sensitive[strings.ToLower(k)]; ok {
			out[k] = "<redacted>"
			continue
		}
		out[k] = v[0]
	}
	return out
}

// LogRequest logs a concise, safe summary of an incoming request.
func LogRequest(r *http.Request, requestID string) {
	L().Info("incoming_request",
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.Any("headers", SafeHeaders(r.Header)),
	)
}
