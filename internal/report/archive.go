package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioArchive keeps a copy of every sent report in object storage.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to MinIO/S3-compatible storage and ensures the
// bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// Archive stores one report under reports/<tenant>/<date>.txt.
func (a *MinioArchive) Archive(ctx context.Context, tenantID, date, text string) error {
	key := fmt.Sprintf("reports/%s/%s.txt", tenantID, strings.ReplaceAll(date, "/", "-"))
	reader := strings.NewReader(text)
	_, err := a.client.PutObject(ctx, a.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put report object: %w", err)
	}
	return nil
}
