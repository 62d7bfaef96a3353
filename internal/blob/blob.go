// Package blob stores chat attachments and hands back the URL a message links to.
package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrContentMismatch = errors.New("file content does not match type")
	ErrTooLarge        = errors.New("file too large")
	ErrNotFound        = errors.New("blob not found")
)

// Metadata travels with an upload. Filename decides the extension and content type.
type Metadata struct {
	Filename   string
	SessionID  string
	UploaderID string
}

type Store interface {
	Upload(ctx context.Context, data []byte, meta Metadata) (string, error)
}

var imageExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
}

// ContentType returns the MIME type of an accepted image extension.
func ContentType(ext string) string {
	return imageExt[strings.ToLower(ext)]
}

// Inspect checks that data is an accepted image whose bytes match its extension.
// It returns the normalised extension.
func Inspect(filename string, data []byte, maxSize int64) (string, error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", ErrTooLarge
	}
	// Some clients encode spaces as "+".
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(filename, "+", " ")))
	if _, ok := imageExt[ext]; !ok {
		return "", ErrUnsupportedType
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if !matchMagic(ext, head) {
		return "", ErrContentMismatch
	}
	return ext, nil
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) &&
			(bytes.Equal(head[8:12], []byte("heic")) || bytes.Equal(head[8:12], []byte("heix")) || bytes.Equal(head[8:12], []byte("mif1")))
	}
	return false
}

// safeName strips control characters, quotes and path separators from a display name.
func safeName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
