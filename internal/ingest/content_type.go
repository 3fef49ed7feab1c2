package ingest

import (
	"mime"
	"strings"
)

var imageExtensions = map[string]string{
	"image/jpeg":               ".jpg",
	"image/jpg":                ".jpg",
	"image/pjpeg":              ".jpg",
	"image/png":                ".png",
	"image/apng":               ".png",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/svg+xml":            ".svg",
	"image/bmp":                ".bmp",
	"image/tiff":               ".tiff",
	"image/avif":               ".avif",
	"image/heic":               ".heic",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
}

// MediaType returns the lowercase media type of a Content-Type header value,
// without parameters.
func MediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// IsImage reports whether contentType belongs to the image media-type family.
func IsImage(contentType string) bool {
	return strings.HasPrefix(MediaType(contentType), "image/")
}

// ExtensionFor maps an image content type to a file extension.
func ExtensionFor(contentType string) (string, bool) {
	ext, ok := imageExtensions[MediaType(contentType)]
	return ext, ok
}
