// Package storage wraps the MinIO client used to archive generated
// media and inbound attachments.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/pawd/internal/config"
	"github.com/bowerhall/pawd/internal/logger"
)

const (
	mediaBucket   = "pawd-media"
	archiveBucket = "pawd-archive"
)

type Client struct {
	mc *minio.Client
}

func NewClient(cfg config.StorageConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &Client{mc: mc}, nil
}

// Init creates the buckets if they don't exist.
func (c *Client) Init(ctx context.Context) error {
	for _, bucket := range []string{mediaBucket, archiveBucket} {
		exists, err := c.mc.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
			logger.Info("bucket created", "bucket", bucket)
		}
	}
	return nil
}

// ArchiveMedia stores a delivered media file under the session's prefix
// so it survives local cleanup.
func (c *Client) ArchiveMedia(ctx context.Context, sessionKey, name string, data []byte, contentType string) error {
	key := sessionKey + "/" + name
	return c.upload(ctx, mediaBucket, key, data, contentType)
}

// Archive stores an arbitrary object in the long-term archive bucket.
func (c *Client) Archive(ctx context.Context, name string, data []byte, contentType string) error {
	return c.upload(ctx, archiveBucket, name, data, contentType)
}

func (c *Client) upload(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.mc.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}

	logger.Debug("object uploaded", "bucket", bucket, "name", name, "size", len(data))
	return nil
}

// FetchArchived reads an object back from the archive bucket.
func (c *Client) FetchArchived(ctx context.Context, name string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, archiveBucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", archiveBucket, name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", archiveBucket, name, err)
	}
	return data, nil
}

type ObjectInfo struct {
	Name    string
	Size    int64
	ModTime string
}

// ListArchived lists archive objects under a prefix.
func (c *Client) ListArchived(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for obj := range c.mc.ListObjects(ctx, archiveBucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", archiveBucket, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects = append(objects, ObjectInfo{
			Name:    obj.Key,
			Size:    obj.Size,
			ModTime: obj.LastModified.Format("2006-01-02 15:04:05"),
		})
	}
	return objects, nil
}
