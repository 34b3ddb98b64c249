package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lumoqi/trainbase/internal/domain/training"
)

// MinioSink writes export snapshots to any S3-compatible object store.
type MinioSink struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioSink constructs the sink.
func NewMinioSink(endpoint, accessKey, secretKey, bucket string, logger *slog.Logger) (*MinioSink, error) {
	useSSL := strings.HasPrefix(strings.ToLower(endpoint), "https")
	client, err := minio.New(sanitizeEndpoint(endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init export client: %w", err)
	}
	return &MinioSink{client: client, bucket: bucket, logger: logger.With("component", "export.minio")}, nil
}

func (s *MinioSink) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err == nil && exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return err
	}
	return nil
}

// Put uploads a snapshot.
func (s *MinioSink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      contentType,
		DisableMultipart: len(data) < 5*1024*1024,
	})
	return err
}

func sanitizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimSuffix(endpoint, "/")
}

var _ training.ObjectSink = (*MinioSink)(nil)
