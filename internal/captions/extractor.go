// Package captions extracts embedded subtitle and alternate-audio tracks from
// video files into sidecar directories the catalog can list.
package captions

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/couchparty/backend/internal/catalog"
)

// runner executes an external tool and returns its stdout. Replaced in tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Stats summarizes one extraction pass.
type Stats struct {
	Videos    int
	Subtitles int
	Dubs      int
}

// Extractor probes videos with ffprobe and extracts tracks with ffmpeg.
type Extractor struct {
	logger *zap.Logger
	run    runner
}

// NewExtractor creates an extractor shelling out to ffprobe/ffmpeg.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger, run: execRunner}
}

type stream struct {
	CodecType string `json:"codec_type"`
	Tags      struct {
		Language string `json:"language"`
	} `json:"tags"`
}

// Process walks root and extracts sidecars for every video it finds.
// Extraction failures are logged per file and do not stop the walk.
func (e *Extractor) Process(ctx context.Context, root string) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !catalog.IsVideoFile(d.Name()) {
			return nil
		}
		stats.Videos++
		e.processVideo(ctx, p, &stats)
		return nil
	})
	return stats, err
}

func (e *Extractor) processVideo(ctx context.Context, videoPath string, stats *Stats) {
	e.logger.Info("probing video", zap.String("video", videoPath))
	streams, err := e.probe(ctx, videoPath)
	if err != nil {
		e.logger.Error("probe failed", zap.String("video", videoPath), zap.Error(err))
		return
	}

	var subtitles, audio []stream
	for _, s := range streams {
		switch s.CodecType {
		case "subtitle":
			subtitles = append(subtitles, s)
		case "audio":
			audio = append(audio, s)
		}
	}

	dir := filepath.Dir(videoPath)
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	for i, s := range subtitles {
		out := filepath.Join(dir, catalog.SubsDir, sidecarName(base, i, s.Tags.Language, ".vtt"))
		if err := e.extract(ctx, videoPath, fmt.Sprintf("0:s:%d", i), []string{"-c:s", "webvtt"}, out); err != nil {
			e.logger.Error("subtitle extraction failed", zap.String("video", videoPath), zap.Int("track", i), zap.Error(err))
			continue
		}
		e.logger.Info("subtitle extracted", zap.String("output", out))
		stats.Subtitles++
	}

	// A single audio stream is assumed to be the original track; dubs are
	// only worth extracting when alternatives exist.
	if len(audio) > 1 {
		for i, s := range audio {
			out := filepath.Join(dir, catalog.DubsDir, sidecarName(base, i, s.Tags.Language, ".mp3"))
			if err := e.extract(ctx, videoPath, fmt.Sprintf("0:a:%d", i), []string{"-c:a", "libmp3lame", "-q:a", "2"}, out); err != nil {
				e.logger.Error("audio extraction failed", zap.String("video", videoPath), zap.Int("track", i), zap.Error(err))
				continue
			}
			e.logger.Info("dub extracted", zap.String("output", out))
			stats.Dubs++
		}
	}
}

func (e *Extractor) probe(ctx context.Context, videoPath string) ([]stream, error) {
	out, err := e.run(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		videoPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	var parsed struct {
		Streams []stream `json:"streams"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return parsed.Streams, nil
}

func (e *Extractor) extract(ctx context.Context, videoPath, mapSpec string, codecArgs []string, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	args := append([]string{"-i", videoPath, "-map", mapSpec}, codecArgs...)
	args = append(args, "-y", out)
	if _, err := e.run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func sidecarName(base string, index int, lang, ext string) string {
	if lang == "" {
		lang = "und"
	}
	return fmt.Sprintf("%s.track_%d.%s%s", base, index, lang, ext)
}
