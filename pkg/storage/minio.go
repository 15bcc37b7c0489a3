// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于归档埋点事件。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"health-coach-go/internal/config"
	"health-coach-go/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
}

// ObjectPutter 是 *minio.Client 中归档用到的方法。
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// AnalyticsArchiver 把一批 JSON 事件写成一个 NDJSON 对象。
type AnalyticsArchiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewAnalyticsArchiver 创建归档器，对象名形如 <prefix>/2024/01/31/150405-<uuid>.ndjson。
func NewAnalyticsArchiver(client ObjectPutter, bucket, prefix string) *AnalyticsArchiver {
	return &AnalyticsArchiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// ObjectName 返回 t 时刻写入的对象名。
func (a *AnalyticsArchiver) ObjectName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s-%s.ndjson", a.prefix, t.Year(), t.Month(), t.Day(), t.Format("150405"), uuid.NewString())
}

// Archive implements kafka.BatchArchiver.
func (a *AnalyticsArchiver) Archive(ctx context.Context, batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, line := range batch {
		buf.Write(bytes.TrimRight(line, "\n"))
		buf.WriteByte('\n')
	}
	name := a.ObjectName(a.now())
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("put analytics object %s: %w", name, err)
	}
	return nil
}
