package media

import (
	"path"
	"strings"
)

// PreviewBannerPath derives the banner image path for a video: the directory
// is kept, the file lands under a .previews subdirectory as <base>_banner.jpg.
// Pure string manipulation; whether the image exists is the client's problem.
func PreviewBannerPath(video string) string {
	dir, file := path.Split(video)
	base := strings.TrimSuffix(file, path.Ext(file))
	return path.Join(dir, ".previews", base+"_banner.jpg")
}
