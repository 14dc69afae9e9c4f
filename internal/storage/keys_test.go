package storage

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoflow/internal/models"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "wedding-042.jpg", "wedding-042.jpg"},
		{"path traversal stripped", "../../etc/passwd", "etc-passwd"},
		{"separators replaced", "a/b\\c.png", "a-b-c.png"},
		{"whitespace collapsed", "my  vacation photo.jpg", "my-vacation-photo.jpg"},
		{"special chars removed", "ph@to!#$.jpeg", "phto.jpeg"},
		{"leading dots stripped", "...hidden.png", "hidden.png"},
		{"reserved windows name", "CON.jpg", "file-CON.jpg"},
		{"uppercase extension lowered", "IMG_0001.JPG", "IMG_0001.jpg"},
		{"empty becomes placeholder", "???", "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameTruncatesLongBase(t *testing.T) {
	long := strings.Repeat("a", 300) + ".jpg"
	got := SanitizeFilename(long)
	assert.Equal(t, strings.Repeat("a", maxBaseLength)+".jpg", got)
}

func TestUniqueFilenameDisambiguates(t *testing.T) {
	pattern := regexp.MustCompile(`^photo-\d+-[0-9a-f]{8}\.jpg$`)

	first := UniqueFilename("photo.jpg")
	second := UniqueFilename("photo.jpg")

	assert.Regexp(t, pattern, first)
	assert.Regexp(t, pattern, second)
	assert.NotEqual(t, first, second, "same source name must never collide")
}

func TestObjectKeyLayout(t *testing.T) {
	original := OriginalKey(models.ContextEvent, "shot-171234-abcd1234.png")
	assert.Equal(t, "event/originals/shot-171234-abcd1234.png", original)

	thumb := ThumbnailKey(models.ContextEvent, "small", "shot-171234-abcd1234.png")
	assert.Equal(t, "event/thumbnails/small/shot-171234-abcd1234.jpg", thumb)
}

func TestThumbnailKeysForOriginal(t *testing.T) {
	keys := ThumbnailKeysForOriginal("portfolio/originals/sunset-99-beef00aa.jpg", []string{"small", "medium", "large"})
	require.Len(t, keys, 3)
	assert.Equal(t, "portfolio/thumbnails/small/sunset-99-beef00aa.jpg", keys[0])
	assert.Equal(t, "portfolio/thumbnails/medium/sunset-99-beef00aa.jpg", keys[1])
	assert.Equal(t, "portfolio/thumbnails/large/sunset-99-beef00aa.jpg", keys[2])
}
