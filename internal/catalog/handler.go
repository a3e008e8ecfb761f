// Package catalog lists the video library and its extracted sidecar tracks.
package catalog

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/couchparty/backend/pkg/response"
)

// Sidecar directory and naming conventions produced by cmd/captions.
const (
	SubsDir = ".subs"
	DubsDir = ".dubs"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
}

// IsVideoFile reports whether the file name has a recognized video extension.
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Track is one extracted sidecar (subtitle or dub) for a video.
type Track struct {
	Path  string `json:"path"` // relative to the video root
	Index int    `json:"index"`
	Lang  string `json:"lang"`
}

// Handler serves the catalog endpoints.
type Handler struct {
	videoDir string
	logger   *zap.Logger
}

// NewHandler creates a catalog handler rooted at videoDir.
func NewHandler(videoDir string, logger *zap.Logger) *Handler {
	return &Handler{videoDir: videoDir, logger: logger}
}

// ListVideos returns every video file under the library root, recursively,
// as slash-separated paths relative to the root. Dot-directories (sidecar and
// preview folders) are skipped.
func (h *Handler) ListVideos(c *gin.Context) {
	videos := []string{}
	err := filepath.WalkDir(h.videoDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != h.videoDir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if IsVideoFile(d.Name()) {
			rel, err := filepath.Rel(h.videoDir, p)
			if err != nil {
				return err
			}
			videos = append(videos, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		h.logger.Error("video listing failed", zap.String("dir", h.videoDir), zap.Error(err))
		response.Internal(c, "video directory not readable")
		return
	}
	sort.Strings(videos)
	response.OK(c, gin.H{"videos": videos})
}

// ListTracks returns the subtitle and dub sidecars extracted for one video.
// Missing sidecar directories yield empty lists, not errors.
func (h *Handler) ListTracks(c *gin.Context) {
	video := c.Query("video")
	if video == "" {
		response.BadRequest(c, "video query parameter required")
		return
	}
	if !filepath.IsLocal(filepath.FromSlash(video)) {
		response.BadRequest(c, "invalid video path")
		return
	}

	dir := path.Dir(video)
	if dir == "." {
		dir = ""
	}
	base := strings.TrimSuffix(path.Base(video), path.Ext(video))

	subs := h.collectTracks(dir, SubsDir, base, ".vtt")
	dubs := h.collectTracks(dir, DubsDir, base, ".mp3")
	response.OK(c, gin.H{"subtitles": subs, "dubs": dubs})
}

func (h *Handler) collectTracks(dir, sidecarDir, base, ext string) []Track {
	tracks := []Track{}
	full := filepath.Join(h.videoDir, filepath.FromSlash(dir), sidecarDir)
	entries, err := os.ReadDir(full)
	if err != nil {
		return tracks
	}
	prefix := base + ".track_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		index, lang, ok := parseTrackSuffix(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext))
		if !ok {
			continue
		}
		tracks = append(tracks, Track{
			Path:  path.Join(dir, sidecarDir, name),
			Index: index,
			Lang:  lang,
		})
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Index < tracks[j].Index })
	return tracks
}

// parseTrackSuffix splits the "<index>.<lang>" tail of a sidecar file name.
func parseTrackSuffix(s string) (int, string, bool) {
	idx, lang, found := strings.Cut(s, ".")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return 0, "", false
	}
	return n, lang, true
}
