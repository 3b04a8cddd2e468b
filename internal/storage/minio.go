package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatspace/backend-go/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AttachmentStore 附件原始字节归档（MinIO对象存储）
// 归档是尽力而为：写入完成后异步执行，失败只记日志不影响聊天轮次
type AttachmentStore struct {
	client *minio.Client
	bucket string
}

var globalAttachmentStore *AttachmentStore

// NewAttachmentStore 创建MinIO附件归档服务
func NewAttachmentStore() (*AttachmentStore, error) {
	if globalAttachmentStore != nil {
		return globalAttachmentStore, nil
	}

	cfg := config.AppConfig.Minio
	if !cfg.Enabled {
		return nil, fmt.Errorf("minio not enabled")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}

	// minio.New 的endpoint不带协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store := &AttachmentStore{
		client: client,
		bucket: cfg.Bucket,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check minio bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create minio bucket: %w", err)
		}
	}

	globalAttachmentStore = store
	return store, nil
}

// GetAttachmentStore 获取全局归档服务，未配置时返回nil
func GetAttachmentStore() *AttachmentStore {
	return globalAttachmentStore
}

// Archive 归档一个附件的原始字节，对象键为 {sessionID}/{messageID}/{filename}
func (s *AttachmentStore) Archive(ctx context.Context, sessionID string, messageID uint, filename, mimeType string, data []byte) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("attachment store not initialized")
	}

	objectName := fmt.Sprintf("%s/%d/%s", sessionID, messageID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return fmt.Errorf("归档附件失败: %w", err)
	}
	return nil
}
