package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/BeanGreen247/xylonic-sub000/config"
	"github.com/BeanGreen247/xylonic-sub000/logger"
)

// MinioStore 基于 MinIO 对象存储的实现，可替代本地磁盘作为内容后端
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 创建 MinIO 存储并确保存储桶存在
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	logger.Info("正在连接 MinIO 服务器",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioStore{client: client, bucket: cfg.MinioBucket}, nil
}

// SaveAudioFile 写入音频对象，已存在时直接返回对象键
func (s *MinioStore) SaveAudioFile(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	return s.saveContent(ctx, AudioDir, hash, data, ext)
}

// SaveCoverArtFile 写入封面对象，已存在时直接返回对象键
func (s *MinioStore) SaveCoverArtFile(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	return s.saveContent(ctx, CoverArtDir, hash, data, ext)
}

func (s *MinioStore) saveContent(ctx context.Context, dir, hash string, data []byte, ext string) (string, error) {
	objectName := path.Join(dir, hash+"."+ext)

	// 一次写入：同一哈希不重复上传
	if _, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{}); err == nil {
		logger.Debug("对象已存在，跳过上传", logger.String("object", objectName))
		return objectName, nil
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentTypeForExt(ext),
	})
	if err != nil {
		return "", fmt.Errorf("上传内容对象失败: %w", err)
	}
	return objectName, nil
}

// DeleteFile 删除内容对象
func (s *MinioStore) DeleteFile(ctx context.Context, relPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, relPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除内容对象失败: %w", err)
	}
	return nil
}

// FileExists 判断内容对象是否存在
func (s *MinioStore) FileExists(ctx context.Context, relPath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, relPath, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ContentPath 返回对象的桶内地址
func (s *MinioStore) ContentPath(relPath string) string {
	return fmt.Sprintf("minio://%s/%s", s.bucket, relPath)
}

// ReadLedger 读取账本对象，不存在时返回 (nil, nil)
func (s *MinioStore) ReadLedger(ctx context.Context, name string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.ledgerKey(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取账本对象失败: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("读取账本内容失败: %w", err)
	}
	return data, nil
}

// WriteLedger 整体重写账本对象，PutObject 本身即完整替换
func (s *MinioStore) WriteLedger(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.ledgerKey(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("写入账本对象失败: %w", err)
	}
	return nil
}

// DeleteLedger 删除账本对象
func (s *MinioStore) DeleteLedger(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.ledgerKey(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除账本对象失败: %w", err)
	}
	return nil
}

func (s *MinioStore) ledgerKey(name string) string {
	return path.Join(ledgerDir, name+".json")
}
