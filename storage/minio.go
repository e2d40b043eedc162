package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"tunevault/config"
	"tunevault/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore 封装了 MinIO 客户端
type MinioStore struct {
	client     *minio.Client
	bucketName string
	region     string
}

var _ BlobStore = (*MinioStore)(nil)

// NewMinioStore 创建 MinIO 客户端，不访问网络
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return &MinioStore{client: client, bucketName: cfg.MinioBucket, region: cfg.MinioRegion}, nil
}

// Bucket returns the bucket all keys live in.
func (m *MinioStore) Bucket() string {
	return m.bucketName
}

// EnsureBucket 检查存储桶是否存在，不存在则创建
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Info("bucket exists", logger.String("bucket", m.bucketName))
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucketName, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("bucket created", logger.String("bucket", m.bucketName))
	return nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.client.PutObject(ctx, m.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (m *MinioStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	switch {
	case end >= 0:
		if err := opts.SetRange(start, end); err != nil {
			return nil, fmt.Errorf("range %d-%d of %s: %w", start, end, key, err)
		}
	case start > 0:
		// end 0 means open-ended for minio.
		if err := opts.SetRange(start, 0); err != nil {
			return nil, fmt.Errorf("range %d- of %s: %w", start, key, err)
		}
	}
	obj, err := m.client.GetObject(ctx, m.bucketName, key, opts)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, mapNotFound(err))
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are written.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("get %s: %w", key, mapNotFound(err))
	}
	return obj, nil
}

func (m *MinioStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, mapNotFound(err))
	}
	return toObjectInfo(info), nil
}

func (m *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objects = append(objects, toObjectInfo(object))
	}
	return objects, nil
}

func (m *MinioStore) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// RemovePrefix 递归删除目录，空前缀直接拒绝，避免清空整个存储桶
func (m *MinioStore) RemovePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("refusing to remove an empty prefix")
	}

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if object.Err != nil {
				logger.Warn("list for removal failed", logger.String("prefix", prefix), logger.ErrorField(object.Err))
				return
			}
			select {
			case objectsCh <- object:
			case <-ctx.Done():
				return
			}
		}
	}()

	var firstErr error
	for rErr := range m.client.RemoveObjects(ctx, m.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("删除对象 %s 失败: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return firstErr
}

// ErrorDetail returns the store's own error code and message for operator
// diagnosis, or empty strings when err did not come from the store.
func ErrorDetail(err error) (code, message string) {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code, resp.Message
	}
	return "", ""
}

func mapNotFound(err error) error {
	if code, _ := ErrorDetail(err); code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}

func toObjectInfo(object minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          object.Key,
		Size:         object.Size,
		LastModified: object.LastModified,
		ContentType:  object.ContentType,
		ETag:         object.ETag,
	}
}
