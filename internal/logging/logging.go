package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/libbitcoin/network/internal/config"
)

// NewLogger builds a zap logger based on configuration settings, stamped
// with the node's identity fields so every line can be attributed to a
// specific running node when logs from several peers are aggregated.
func NewLogger(cfg config.LoggingConfig, identity config.IdentityConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		// A channel runtime logs per-message protocol events (version,
		// ping/pong, addr relay) across potentially hundreds of peer
		// channels, an order of magnitude more than a request-handling
		// server; sample harder after the first burst to keep handshake
		// and disconnect storms from flooding the log sink.
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 20,
		},
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.Uint32("node_id", identity.Identifier),
		zap.String("user_agent", identity.UserAgent),
	), nil
}
