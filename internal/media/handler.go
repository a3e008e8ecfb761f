// Package media serves video and sidecar files and derives preview paths.
package media

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/couchparty/backend/pkg/response"
)

// Handler streams files from the video library root.
type Handler struct {
	videoDir string
}

// NewHandler creates a media handler rooted at videoDir.
func NewHandler(videoDir string) *Handler {
	return &Handler{videoDir: videoDir}
}

// Stream serves one file from the library with byte-range support, so players
// can seek. Paths escaping the library root are rejected.
func (h *Handler) Stream(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("path"), "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		response.BadRequest(c, "invalid media path")
		return
	}
	full := filepath.Join(h.videoDir, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		response.NotFound(c, "video not found")
		return
	}
	// http.ServeFile handles Range requests and Content-Type by extension.
	http.ServeFile(c.Writer, c.Request, full)
}
