// Package log builds the single *zap.SugaredLogger threaded through the
// coordinator, tracker client, and every peer session, following
// uber-kraken's pattern of configuring zap in test and production
// entrypoints alike (see e.g. scheduler's testutils_test.go Init, which
// swaps zap.NewProductionConfig's encoding and level before building the
// logger).
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger writing console-encoded lines to stderr,
// tagged with the local peer id and torrent name so every subsequent log
// line from the coordinator, tracker client, or a peer session carries
// both without repeating them at each call site. verbose raises the level
// from info to debug.
func New(peerID, torrentName string, verbose bool) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar().With(
		"peer_id", peerID,
		"torrent", torrentName,
	), nil
}
