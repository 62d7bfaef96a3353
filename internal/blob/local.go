package blob

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local keeps uploads gzip-compressed under Dir and serves them from URLPrefix.
type Local struct {
	Dir       string
	URLPrefix string
	MaxSize   int64
}

func NewLocal(dir, urlPrefix string, maxSize int64) *Local {
	return &Local{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/"), MaxSize: maxSize}
}

func (l *Local) Upload(ctx context.Context, data []byte, meta Metadata) (string, error) {
	ext, err := Inspect(meta.Filename, data, l.MaxSize)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", fmt.Errorf("blob.Local mkdir: %w", err)
	}
	name := uuid.New().String() + ext
	dstPath := filepath.Join(l.Dir, name+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("blob.Local create: %w", err)
	}
	gz := gzip.NewWriter(dst)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("blob.Local write: %w", err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("blob.Local gzip: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("blob.Local close: %w", err)
	}
	return l.URLPrefix + "/" + name, nil
}

// Open returns the decompressed content of a stored blob and its content type.
func (l *Local) Open(name string) (io.ReadCloser, string, error) {
	name = filepath.Base(name)
	f, err := os.Open(filepath.Join(l.Dir, name+".gz"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("blob.Local open: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("blob.Local gzip: %w", err)
	}
	return &gzipFile{Reader: gz, f: f}, ContentType(filepath.Ext(name)), nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}
