// Package relaylog builds the zap logger relaygate uses everywhere, and
// classifies transport errors the way the connection supervisor needs to:
// a client-caused problem is noise (warn), a local/system problem is worth
// a closer look (debug in release, warn in a dev build).
package relaylog

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init builds a *zap.Logger that writes JSON-ish console output to both
// stderr and a rotated file under dir/file.
func Init(dir, file string, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	roller := &lumberjack.Logger{
		Filename:   filepath.Join(dir, file),
		MaxSize:    100, // MiB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
		zapcore.NewCore(encoder, zapcore.AddSync(roller), level),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// Discard returns a logger that drops everything; handy for tests.
func Discard() *zap.Logger {
	return zap.NewNop()
}

// LogTransportError logs err at the severity appropriate to who most
// likely caused it: the remote peer closing or timing out is expected
// traffic noise (Warn); anything else is logged at Debug in release builds
// and at Warn in a debug build (matching the Rust original's split between
// "hyper user error" and "hyper system error").
func LogTransportError(log *zap.Logger, msg string, err error, debug bool, fields ...zap.Field) {
	if err == nil {
		return
	}
	if IsPeerCaused(err) {
		log.Warn(msg, append(fields, zap.Error(err))...)
		return
	}
	if debug {
		log.Warn(msg, append(fields, zap.Error(err))...)
	} else {
		log.Debug(msg, append(fields, zap.Error(err))...)
	}
}

// IsPeerCaused reports whether err looks like it originated from the other
// side of the connection (reset, closed, or a timeout on a read/write that
// the peer simply never completed) rather than from a local/system fault.
func IsPeerCaused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}
