// Package blob adapts the MinIO object store as the engine's content
// backend. Objects are stored under "<ownerID>/<fileKey>". The engine only
// ever reads from this backend; there is deliberately no delete here.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vaultd/syncd/internal/engine"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the content bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectName(ownerID, key string) string {
	return ownerID + "/" + key
}

// List enumerates the scope's objects. Objects whose names do not follow the
// owner/key layout are skipped; they cannot belong to any file identity.
func (s *Store) List(ctx context.Context, scope engine.Scope) ([]engine.ContentEntry, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if owner, ok := scope.Owner(); ok {
		opts.Prefix = owner + "/"
	}

	entries := make([]engine.ContentEntry, 0)
	for object := range s.client.ListObjects(ctx, s.bucket, opts) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}
		owner, key, ok := strings.Cut(object.Key, "/")
		if !ok || owner == "" || key == "" {
			continue
		}
		entries = append(entries, engine.ContentEntry{
			OwnerID: owner,
			Key:     key,
			Size:    object.Size,
		})
	}
	return entries, nil
}

// Stat probes a single object for existence and size.
func (s *Store) Stat(ctx context.Context, ownerID, key string) (engine.ContentStat, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectName(ownerID, key), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return engine.ContentStat{}, nil
		}
		return engine.ContentStat{}, fmt.Errorf("stat %s/%s: %w", ownerID, key, err)
	}
	return engine.ContentStat{Exists: true, Size: info.Size}, nil
}

// Fetch reads an object's full content.
func (s *Store) Fetch(ctx context.Context, ownerID, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName(ownerID, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ownerID, key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ownerID, key, err)
	}
	return data, nil
}
