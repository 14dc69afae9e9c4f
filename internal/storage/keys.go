package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"photoflow/internal/models"
)

// Reserved device names on Windows; a bare "CON.jpg" would confuse any
// client that later downloads with the original name.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	multiDots   = regexp.MustCompile(`\.{2,}`)
	whitespace  = regexp.MustCompile(`\s+`)
	controls    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

const maxBaseLength = 100

// SanitizeFilename strips path traversal sequences, separators, control
// characters, and anything outside a safe character set. The result is never
// used verbatim as an object key; UniqueFilename appends a disambiguating
// suffix.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.NewReplacer("/", "-", "\\", "-").Replace(name)
	name = controls.ReplaceAllString(name, "")
	name = whitespace.ReplaceAllString(name, "-")
	name = unsafeChars.ReplaceAllString(name, "")
	name = multiDots.ReplaceAllString(name, ".")
	name = strings.Trim(name, ".-")

	base, ext := splitExt(name)
	if _, ok := reservedNames[strings.ToUpper(base)]; ok {
		base = "file-" + base
	}
	if len(base) > maxBaseLength {
		base = base[:maxBaseLength]
	}
	if base == "" {
		base = "upload"
	}
	return base + ext
}

// UniqueFilename disambiguates colliding uploads with a timestamp plus a
// random token rather than overwriting.
func UniqueFilename(original string) string {
	base, ext := splitExt(SanitizeFilename(original))
	return fmt.Sprintf("%s-%d-%s%s", base, time.Now().UnixMilli(), randomToken(), ext)
}

func randomToken() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}

func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext), strings.ToLower(ext)
}

// OriginalKey places the stored original under its destination context.
func OriginalKey(dest models.DestinationContext, filename string) string {
	return path.Join(string(dest), "originals", filename)
}

// ThumbnailKey places one derived variant next to its original. Thumbnails
// are always re-encoded as JPEG.
func ThumbnailKey(dest models.DestinationContext, size string, filename string) string {
	base, _ := splitExt(filename)
	return path.Join(string(dest), "thumbnails", size, base+".jpg")
}

// ThumbnailKeysForOriginal derives every variant key from a stored original
// key. Used by the orphan sweep, which only lists the originals prefix.
func ThumbnailKeysForOriginal(originalKey string, sizes []string) []string {
	dir, file := path.Split(originalKey)
	dest := path.Dir(strings.TrimSuffix(dir, "/"))
	base, _ := splitExt(file)

	keys := make([]string, 0, len(sizes))
	for _, size := range sizes {
		keys = append(keys, path.Join(dest, "thumbnails", size, base+".jpg"))
	}
	return keys
}
