// Package zlog wraps zap with the three log calls the rest of the
// server actually needs: routine info, a dropped/ignored-input line,
// and a "malicious" line for input that looks like an attack or a
// broken client rather than ordinary noise (spec §7's error-handling
// design: "malicious or malformed input from a peer is logged at a
// distinct level from internal errors").
package zlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the server-wide logger. The zero value is not usable;
// construct with New.
type Log struct {
	z *zap.Logger
}

// New builds a Log writing JSON to stderr at level, using zap's
// production encoder config with ISO8601 timestamps under "ts" and
// the caller recorded on every entry.
func New(level zapcore.Level) *Log {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), level)
	return &Log{z: zap.New(core, zap.AddCaller())}
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Log) Sync() error { return l.z.Sync() }

// With returns a Log that prepends the given fields to every entry,
// e.g. per-arena or per-peer context.
func (l *Log) With(fields ...zap.Field) *Log { return &Log{z: l.z.With(fields...)} }

// Info logs a routine operational event.
func (l *Log) Info(msg string, fields ...zap.Field) { l.z.Info(msg, fields...) }

// Error logs an internal error: something the server itself should
// not have produced, as opposed to bad input from a peer.
func (l *Log) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Drop logs that some input was silently ignored (unknown packet
// type, arena-inappropriate packet, framing error) — worth recording
// but not a sign the peer is attacking (spec §7: "dropped input is
// logged, never a reason to kick by itself").
func (l *Log) Drop(msg string, fields ...zap.Field) {
	l.z.Info(msg, append(fields, zap.String("class", "drop"))...)
}

// Malicious logs input that looks like an attack or a badly broken
// client — oversized claims, bad framing that repeats, protocol
// violations — distinct from an ordinary drop so operators can alert
// on a rate of these without drowning in routine drops.
func (l *Log) Malicious(msg string, fields ...zap.Field) {
	l.z.Warn(msg, append(fields, zap.String("class", "malicious"))...)
}

// Logf adapts Log to the transport package's minimal Logf signature
// (spec §4.3's transport takes a plain printf-style hook so it doesn't
// need to import zlog directly).
func (l *Log) Logf(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}
