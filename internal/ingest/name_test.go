package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUsesLastPathSegment(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		url  string
		want string
	}{
		{"plain", "https://example.test/a.png", "a.png"},
		{"nested", "https://example.test/img/2024/cat.jpeg", "cat.jpeg"},
		{"query stripped", "https://example.test/pics/dog.gif?size=large&v=2", "dog.gif"},
		{"fragment stripped", "https://example.test/pics/dog.gif#top", "dog.gif"},
		{"percent decoded", "https://example.test/pics/my%20photo.png", "my photo.png"},
		{"no extension", "https://example.test/avatar", "avatar"},
		{"encoded slash kept escaped", "https://example.test/pics/a%2Fb.png", "a%2Fb.png"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Resolve(tc.url)
			assert.Equal(t, tc.want, got.Filename)
			assert.False(t, got.DerivedFromHash)
			assert.Equal(t, got, Resolve(tc.url), "resolve must be idempotent")
		})
	}
}

func TestResolveFallsBackToURLHash(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"https://example.test",
		"https://example.test/",
		"https://example.test/gallery/",
		"https://example.test/gallery/..",
		"https://example.test/?q=1",
		"http://[::1",
		"",
	} {
		got := Resolve(raw)
		require.True(t, got.DerivedFromHash, raw)
		assert.Equal(t, HashName(raw)+".jpg", got.Filename, raw)
		assert.Len(t, strings.TrimSuffix(got.Filename, ".jpg"), 32, raw)
		assert.Equal(t, got, Resolve(raw), "hash branch must be stable")
	}
}

func TestResolveHashDependsOnlyOnURLText(t *testing.T) {
	t.Parallel()

	a := Resolve("https://a.example.test/")
	b := Resolve("https://b.example.test/")
	assert.NotEqual(t, a.Filename, b.Filename)
}

func TestResolveRejectsOverlongSegment(t *testing.T) {
	t.Parallel()

	raw := "https://example.test/" + strings.Repeat("x", 300) + ".png"
	assert.True(t, Resolve(raw).DerivedFromHash)
}

func TestWithContentTypeCorrectsHashNames(t *testing.T) {
	t.Parallel()

	hashed := Resolve("https://example.test/")
	got := hashed.WithContentType("image/png; charset=binary")
	assert.Equal(t, HashName("https://example.test/")+".png", got.Filename)

	unknown := hashed.WithContentType("image/x-unknown")
	assert.Equal(t, hashed, unknown)

	named := Resolve("https://example.test/photo")
	assert.Equal(t, named, named.WithContentType("image/png"))
}

func TestDisambiguate(t *testing.T) {
	t.Parallel()

	hash := "0123456789abcdef"
	assert.Equal(t, "a.png", Disambiguate("a.png", hash, 0))
	assert.Equal(t, "a-01234567.png", Disambiguate("a.png", hash, 1))
	assert.Equal(t, "a-01234567-2.png", Disambiguate("a.png", hash, 2))
	assert.Equal(t, "avatar-01234567", Disambiguate("avatar", hash, 1))
	assert.Equal(t, "x.tar-abc.gz", Disambiguate("x.tar.gz", "abc", 1))
}

func TestDisambiguate_StaysWithinNameLimit(t *testing.T) {
	t.Parallel()

	hash := "0123456789abcdef"
	long := strings.Repeat("a", 246) + ".png"
	require.Len(t, long, 250)

	first := Disambiguate(long, hash, 1)
	assert.Len(t, first, maxFilenameLen)
	assert.True(t, strings.HasSuffix(first, "-01234567.png"))

	later := Disambiguate(long, hash, 31)
	assert.LessOrEqual(t, len(later), maxFilenameLen)
	assert.True(t, strings.HasSuffix(later, "-01234567-31.png"))
	assert.NotEqual(t, first, later)

	wide := "a" + strings.Repeat("é", 125) + ".jpg"
	got := Disambiguate(wide, hash, 2)
	assert.LessOrEqual(t, len(got), maxFilenameLen)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "-01234567-2.jpg"))

	allExt := "a." + strings.Repeat("x", 250)
	got = Disambiguate(allExt, hash, 1)
	assert.LessOrEqual(t, len(got), maxFilenameLen)
	assert.True(t, strings.HasSuffix(got, "-01234567"))
}

func FuzzResolve(f *testing.F) {
	for _, seed := range []string{"https://example.test/a.png", "https://example.test/", "%", "::"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		got := Resolve(raw)
		if got.Filename == "" {
			t.Fatalf("Resolve(%q) returned empty filename", raw)
		}
		if strings.ContainsAny(got.Filename, "/\\\x00") || got.Filename == "." || got.Filename == ".." {
			t.Fatalf("Resolve(%q) returned unsafe filename %q", raw, got.Filename)
		}
	})
}
