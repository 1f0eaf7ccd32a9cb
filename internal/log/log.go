// Package log builds the process zap logger and the field helpers used for
// the edge's recurring log keys.
package log

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level (debug, info, warn, error) and the format
// (json or console). Empty values mean info and json.
type Config struct {
	Level  string
	Format string
}

// New creates a logger that writes to stdout.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "arca-edge")), nil
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

func Component(name string) zap.Field { return zap.String("component", name) }

func Username(name string) zap.Field { return zap.String("username", name) }

func Host(host string) zap.Field { return zap.String("host", host) }

// Target is the backend URL a request was routed to.
func Target(target string) zap.Field { return zap.String("target", target) }

func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

func Method(method string) zap.Field { return zap.String("method", method) }

func Path(path string) zap.Field { return zap.String("path", path) }

func Addr(addr string) zap.Field { return zap.String("addr", addr) }

func TLSMode(mode string) zap.Field { return zap.String("tls_mode", mode) }

func Duration(d time.Duration) zap.Field { return zap.Duration("duration", d) }
