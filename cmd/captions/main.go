// Package main extracts embedded subtitle and alternate-audio tracks from a
// video library into sidecar files served alongside the videos.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/couchparty/backend/internal/captions"
)

func main() {
	dir := flag.String("dir", ".", "root directory to scan for videos")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extractor := captions.NewExtractor(logger)
	stats, err := extractor.Process(ctx, *dir)
	if err != nil {
		logger.Error("extraction walk failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("extraction finished",
		zap.Int("videos", stats.Videos),
		zap.Int("subtitles", stats.Subtitles),
		zap.Int("dubs", stats.Dubs),
	)
}

func newLogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	logger, _ := config.Build()
	return logger
}
