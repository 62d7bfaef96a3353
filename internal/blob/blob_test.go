package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		max      int64
		wantExt  string
		wantErr  error
	}{
		{"png", "shot.PNG", pngHeader, 0, ".png", nil},
		{"jpeg", "a+b.jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, 0, ".jpg", nil},
		{"script", "x.js", []byte("alert(1)"), 0, "", ErrUnsupportedType},
		{"mismatch", "fake.png", []byte("GIF89a......"), 0, "", ErrContentMismatch},
		{"too large", "shot.png", pngHeader, 4, "", ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := Inspect(tt.filename, tt.data, tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if ext != tt.wantExt {
				t.Fatalf("ext = %q, want %q", ext, tt.wantExt)
			}
		})
	}
}

func TestLocalUploadAndOpen(t *testing.T) {
	l := NewLocal(t.TempDir(), "/api/support/files/", 1<<20)
	url, err := l.Upload(context.Background(), pngHeader, Metadata{Filename: "shot.png", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "/api/support/files/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected url %q", url)
	}

	rc, ct, err := l.Open(url[strings.LastIndex(url, "/")+1:])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(pngHeader) {
		t.Fatalf("content mismatch")
	}
	if ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestLocalOpenMissing(t *testing.T) {
	l := NewLocal(t.TempDir(), "/files", 0)
	if _, _, err := l.Open("../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestObjectKey(t *testing.T) {
	if got := objectKey("s1", "a.png"); got != "support/s1/a.png" {
		t.Fatalf("objectKey = %q", got)
	}
	if got := objectKey("", "a.png"); got != "support/a.png" {
		t.Fatalf("objectKey = %q", got)
	}
}
