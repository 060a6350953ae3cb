package media

import (
	"context"
	"io"
	"strings"
)

// Upload is the record returned by the remote media store after an upload.
type Upload struct {
	URL          string
	PublicID     string
	ResourceType string
}

// Store is the external media host the messaging core talks to. Upload
// failures are terminal for the calling request; Destroy failures are
// ignored by callers.
type Store interface {
	Upload(ctx context.Context, file io.Reader, filename, folder string) (*Upload, error)
	Destroy(ctx context.Context, publicID, resourceType string) error
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

var videoExtensions = map[string]bool{
	"mp4": true, "avi": true, "mov": true, "wmv": true, "mkv": true,
}

// ResourceTypeFor classifies a file by extension: known image extensions map
// to "image", known video extensions to "video", everything else to "auto"
// so the store decides.
func ResourceTypeFor(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "auto"
	}
	ext := strings.ToLower(filename[idx+1:])
	if imageExtensions[ext] {
		return "image"
	}
	if videoExtensions[ext] {
		return "video"
	}
	return "auto"
}

// IsImageFilename reports whether the filename carries an image extension.
// Used to gate profile picture uploads.
func IsImageFilename(filename string) bool {
	return ResourceTypeFor(filename) == "image"
}
