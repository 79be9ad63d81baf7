package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/renderinc/kirk-archive/internal/storage"
)

const maxBaseLen = 64

var imageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

var videoExtensions = map[string]bool{
	"mp4":  true,
	"webm": true,
	"mov":  true,
}

// baseName strips any client-side directory part, whichever separator it uses
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

// Extension returns the lowercased text after the last dot of the base name,
// or "" if there is none.
func Extension(filename string) string {
	name := baseName(filename)
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// Classify maps an extension to its media kind
func Classify(ext string) storage.MediaKind {
	if videoExtensions[ext] {
		return storage.MediaVideo
	}
	return storage.MediaImage
}

// StoredName builds the on-disk name: a slug of the original base name, the
// uniqueness token and the validated extension. The result is a single path
// element.
func StoredName(original, ext, token string) string {
	name := baseName(original)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}

	base := slug.Make(name)
	if len(base) > maxBaseLen {
		base = strings.TrimRight(base[:maxBaseLen], "-")
	}
	if base == "" {
		base = "file"
	}

	return base + "-" + token + "." + ext
}

// newToken combines a nanosecond timestamp with random bits
func newToken(now time.Time) string {
	id := uuid.New()
	return strconv.FormatInt(now.UnixNano(), 36) + "-" + strings.ReplaceAll(id.String(), "-", "")[:8]
}
