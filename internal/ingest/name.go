package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

const (
	// placeholderExt is used for hash-derived names until the content type is known.
	placeholderExt = ".jpg"
	hashNameLen    = 32
	maxFilenameLen = 255
	shortHashLen   = 8
)

// Resolve derives the filename for rawURL from its last path segment, falling
// back to a hash of the URL text when the path yields no usable basename. It
// performs no I/O and never fails.
func Resolve(rawURL string) ResolvedName {
	if u, err := url.Parse(rawURL); err == nil {
		if name := lastSegment(u); name != "" {
			return ResolvedName{Filename: name}
		}
	}
	return ResolvedName{
		Filename:        HashName(rawURL) + placeholderExt,
		DerivedFromHash: true,
	}
}

// HashName returns a stable identifier derived solely from the URL text.
func HashName(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:hashNameLen]
}

func lastSegment(u *url.URL) string {
	escaped := u.EscapedPath()
	seg := escaped[strings.LastIndex(escaped, "/")+1:]
	if seg == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(seg); err == nil && usableFilename(decoded) {
		return decoded
	}
	if usableFilename(seg) {
		return seg
	}
	return ""
}

func usableFilename(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > maxFilenameLen {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// WithContentType corrects the placeholder extension of a hash-derived name
// using the validated content type. Path-derived names are returned unchanged.
func (n ResolvedName) WithContentType(contentType string) ResolvedName {
	if !n.DerivedFromHash {
		return n
	}
	ext, ok := ExtensionFor(contentType)
	if !ok {
		return n
	}
	stem := strings.TrimSuffix(n.Filename, path.Ext(n.Filename))
	return ResolvedName{Filename: stem + ext, DerivedFromHash: true}
}

// Disambiguate returns the attempt-th candidate filename for content that
// collides with an existing object. Attempt 0 is the filename itself. The stem
// is shortened on a rune boundary so a candidate never exceeds maxFilenameLen.
func Disambiguate(filename, contentHash string, attempt int) string {
	if attempt <= 0 {
		return filename
	}
	short := contentHash
	if len(short) > shortHashLen {
		short = short[:shortHashLen]
	}
	tag := "-" + short
	if attempt > 1 {
		tag = fmt.Sprintf("-%s-%d", short, attempt)
	}

	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	if len(tag)+len(ext) >= maxFilenameLen {
		stem, ext = filename, ""
	}
	return truncateUTF8(stem, maxFilenameLen-len(tag)-len(ext)) + tag + ext
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
