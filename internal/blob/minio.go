package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/supportchat/internal/logger"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base returned URLs are built on, e.g. https://cdn.example.com.
	// Empty means the endpoint itself.
	PublicURL string
	MaxSize   int64
}

// Minio stores uploads in an S3-compatible bucket under support/<session>/.
type Minio struct {
	client  *minio.Client
	bucket  string
	baseURL string
	maxSize int64
}

func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob.NewMinio: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob.NewMinio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("blob.NewMinio make bucket: %w", err)
		}
		logger.Infof("blob: bucket %s created", cfg.Bucket)
	}
	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &Minio{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(base, "/"),
		maxSize: cfg.MaxSize,
	}, nil
}

func (m *Minio) Upload(ctx context.Context, data []byte, meta Metadata) (string, error) {
	ext, err := Inspect(meta.Filename, data, m.maxSize)
	if err != nil {
		return "", err
	}
	key := objectKey(meta.SessionID, uuid.New().String()+ext)
	userMeta := map[string]string{}
	if name := safeName(meta.Filename); name != "" && isASCII(name) {
		userMeta["original-name"] = name
	}
	if meta.UploaderID != "" {
		userMeta["uploader"] = meta.UploaderID
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  ContentType(ext),
		UserMetadata: userMeta,
	})
	if err != nil {
		return "", fmt.Errorf("blob.Minio put %s: %w", key, err)
	}
	return m.baseURL + "/" + m.bucket + "/" + key, nil
}

func objectKey(sessionID, name string) string {
	if sessionID == "" {
		return "support/" + name
	}
	return "support/" + sessionID + "/" + name
}

// S3 user metadata travels as HTTP headers.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
