package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/renderinc/kirk-archive/internal/content"
	"github.com/renderinc/kirk-archive/internal/storage"
)

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":           "jpg",
		"Photo.JPEG":          "jpeg",
		"archive.tar.gz":      "gz",
		"noext":               "",
		"trailing.":           "",
		"dir.d/noext":         "",
		`C:\Users\kirk\a.PNG`: "png",
		".hidden":             "hidden",
	}
	for in, want := range tests {
		assert.Equal(t, want, Extension(in), in)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, storage.MediaVideo, Classify("mp4"))
	assert.Equal(t, storage.MediaVideo, Classify("webm"))
	assert.Equal(t, storage.MediaVideo, Classify("mov"))
	assert.Equal(t, storage.MediaImage, Classify("png"))
	assert.Equal(t, storage.MediaImage, Classify("gif"))
}

func TestStoredName(t *testing.T) {
	assert.Equal(t, "my-holiday-photo-tok.jpg", StoredName("My Holiday Photo.JPG", "jpg", "tok"))
	assert.Equal(t, "file-tok.png", StoredName(".png", "png", "tok"))
	assert.Equal(t, "file-tok.png", StoredName("!!!.png", "png", "tok"))
}

func TestStoredNameIsPathSafe(t *testing.T) {
	inputs := []string{
		"../../etc/passwd.png",
		`..\..\windows\system32.png`,
		"/absolute/path/x.png",
		"a/../../b.png",
		"....png",
		"..%2f..%2fsecret.png",
		"evil\x00name.png",
	}
	for _, in := range inputs {
		name := StoredName(in, "png", newToken(time.Now()))
		assert.True(t, content.ValidName(name), "%q -> %q", in, name)
		assert.NotContains(t, name, "/")
		assert.NotContains(t, name, `\`)
		assert.NotContains(t, name, "..")
		assert.True(t, strings.HasSuffix(name, ".png"))
	}
}

func TestStoredNameTruncatesLongNames(t *testing.T) {
	name := StoredName(strings.Repeat("kirk ", 40)+".gif", "gif", "tok")
	base := strings.TrimSuffix(name, "-tok.gif")
	assert.LessOrEqual(t, len(base), maxBaseLen)
	assert.False(t, strings.HasSuffix(base, "-"))
}

func TestNewTokenDiffers(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, newToken(now), newToken(now))
}
