package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsImage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"IMAGE/JPEG", true},
		{"image/svg+xml; charset=utf-8", true},
		{"text/html", false},
		{"text/html; charset=utf-8", false},
		{"application/octet-stream", false},
		{"", false},
		{"image", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsImage(tc.contentType), tc.contentType)
	}
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	ext, ok := ExtensionFor("image/jpeg")
	assert.True(t, ok)
	assert.Equal(t, ".jpg", ext)

	ext, ok = ExtensionFor("image/webp;q=1")
	assert.True(t, ok)
	assert.Equal(t, ".webp", ext)

	_, ok = ExtensionFor("text/plain")
	assert.False(t, ok)
}

func TestMediaTypeFallsBackOnMalformedHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/png", MediaType(" Image/PNG ;;bad=="))
}
