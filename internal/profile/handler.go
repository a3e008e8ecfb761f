// Package profile handles participant avatar uploads.
package profile

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/couchparty/backend/pkg/response"
)

// Handler stores uploaded avatars in the cache directory.
type Handler struct {
	cacheDir string
}

// NewHandler creates an avatar upload handler writing into cacheDir.
func NewHandler(cacheDir string) *Handler {
	return &Handler{cacheDir: cacheDir}
}

// Upload saves a multipart "file" into the cache directory and returns the
// URL it will be served from. The file name is reduced to its base to keep
// uploads inside the cache directory.
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file required")
		return
	}
	name := filepath.Base(filepath.FromSlash(file.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		response.BadRequest(c, "invalid file name")
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(h.cacheDir, name)); err != nil {
		response.Internal(c, "failed to store file")
		return
	}
	response.OK(c, gin.H{"url": "/cache/" + name})
}
