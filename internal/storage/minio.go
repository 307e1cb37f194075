package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/copad/copad/internal/document"
)

// SnapshotArchive offloads version bodies to object storage so history
// export does not go through Mongo. Keys are <docID>/<versionID>.
type SnapshotArchive struct {
	client *minio.Client
	bucket string
}

// NewSnapshotArchive creates a MinIO-backed archive and ensures the bucket exists.
func NewSnapshotArchive(cfg *MinIOConfig) (*SnapshotArchive, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &SnapshotArchive{client: mc, bucket: cfg.Bucket}
	// ensure bucket exists (idempotent)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

// ArchiveVersion stores one version body under <docID>/<versionID>.
func (s *SnapshotArchive) ArchiveVersion(ctx context.Context, docID string, v document.Version) error {
	key := docID + "/" + v.ID
	rd := strings.NewReader(v.Content)
	_, err := s.client.PutObject(ctx, s.bucket, key, rd, int64(rd.Len()),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	return err
}

// PresignedSnapshotURL returns a presigned GET URL for an archived version.
func (s *SnapshotArchive) PresignedSnapshotURL(ctx context.Context, docID, versionID string, expires time.Duration) (string, error) {
	reqParams := make(url.Values)
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, docID+"/"+versionID, expires, reqParams)
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}
