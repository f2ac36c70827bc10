package caches

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"

	"cache-service/internal/services/cache"
)

const (
	minioEntryPrefix = "entries/"
	metaStoredAt     = "Stored-At"
	metaExpiresAt    = "Expires-At"
)

// MinioCache is the cold tier: durable object storage holding the copy of
// record used for stale fallback. Every operation may fail transiently and
// callers are expected to degrade rather than propagate.
type MinioCache struct {
	client *minio.Client
	bucket string

	hits   atomic.Int64
	misses atomic.Int64
}

func NewMinioCache(client *minio.Client, bucket string) *MinioCache {
	return &MinioCache{client: client, bucket: bucket}
}

func (oc *MinioCache) Name() string {
	return "OBJECT_STORE"
}

func (oc *MinioCache) Get(ctx context.Context, key string) (*cache.Entry, error) {
	obj, err := oc.client.GetObject(ctx, oc.bucket, oc.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		oc.misses.Add(1)
		return nil, fmt.Errorf("object store get: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			oc.misses.Add(1)
			return nil, nil
		}
		oc.misses.Add(1)
		return nil, fmt.Errorf("object store stat: %w", err)
	}

	value, err := io.ReadAll(obj)
	if err != nil {
		oc.misses.Add(1)
		return nil, fmt.Errorf("object store read: %w", err)
	}

	oc.hits.Add(1)
	return &cache.Entry{
		Key:       key,
		Value:     value,
		StoredAt:  parseMetaTime(info.UserMetadata, metaStoredAt),
		ExpiresAt: parseMetaTime(info.UserMetadata, metaExpiresAt),
	}, nil
}

func (oc *MinioCache) Set(ctx context.Context, entry *cache.Entry) error {
	meta := map[string]string{
		metaStoredAt:  entry.StoredAt.UTC().Format(time.RFC3339Nano),
		metaExpiresAt: entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}

	_, err := oc.client.PutObject(ctx, oc.bucket, oc.objectName(entry.Key),
		bytes.NewReader(entry.Value), int64(len(entry.Value)),
		minio.PutObjectOptions{UserMetadata: meta})
	if err != nil {
		return fmt.Errorf("object store put: %w", err)
	}
	return nil
}

func (oc *MinioCache) Delete(ctx context.Context, key string) error {
	err := oc.client.RemoveObject(ctx, oc.bucket, oc.objectName(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("object store delete: %w", err)
	}
	return nil
}

func (oc *MinioCache) Clear(ctx context.Context) error {
	for obj := range oc.client.ListObjects(ctx, oc.bucket, minio.ListObjectsOptions{Prefix: minioEntryPrefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("object store list: %w", obj.Err)
		}
		if err := oc.client.RemoveObject(ctx, oc.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("object store delete %s: %w", obj.Key, err)
		}
	}
	oc.hits.Store(0)
	oc.misses.Store(0)
	return nil
}

func (oc *MinioCache) Stats(ctx context.Context) (cache.LayerStats, error) {
	var count int
	var size int64
	for obj := range oc.client.ListObjects(ctx, oc.bucket, minio.ListObjectsOptions{Prefix: minioEntryPrefix, Recursive: true}) {
		if obj.Err != nil {
			return cache.LayerStats{}, fmt.Errorf("object store list: %w", obj.Err)
		}
		count++
		size += obj.Size
	}

	hits := oc.hits.Load()
	misses := oc.misses.Load()
	return cache.LayerStats{
		Name:      "ObjectStore",
		Objects:   count,
		SizeBytes: size,
		Hits:      hits,
		Misses:    misses,
		HitRate:   cache.ComputeHitRate(hits, misses),
	}, nil
}

// UsedBytes reports the total stored size, used by capacity monitoring.
func (oc *MinioCache) UsedBytes(ctx context.Context) (int64, error) {
	stats, err := oc.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.SizeBytes, nil
}

func (oc *MinioCache) objectName(key string) string {
	return minioEntryPrefix + hex.EncodeToString([]byte(key))
}

func parseMetaTime(meta map[string]string, name string) time.Time {
	raw, ok := meta[name]
	if !ok {
		// Header canonicalization differs between S3 implementations.
		for k, v := range meta {
			if strings.EqualFold(k, name) {
				raw = v
				ok = true
				break
			}
		}
	}
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
