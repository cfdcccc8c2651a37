// Package storage はGoogle Cloud Storageへのオブジェクトアップロードを提供します。
package storage

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewGCSClient はGCSクライアントを生成します。credsPath が空ならADCを使います。
func NewGCSClient(ctx context.Context, credsPath string) (*storage.Client, error) {
	if credsPath == "" {
		return storage.NewClient(ctx)
	}
	return storage.NewClient(ctx, option.WithCredentialsFile(credsPath))
}

// Uploader は1つのバケットにオブジェクトを書き込みます。
type Uploader struct {
	client *storage.Client
	bucket string
}

// NewUploader はUploaderを生成します。
func NewUploader(client *storage.Client, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

// Upload は r の内容を bucket/object に書き込み、gs:// 形式のURIを返します。
func (u *Uploader) Upload(ctx context.Context, object, contentType string, r io.Reader) (string, error) {
	wc := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	wc.ContentType = contentType
	wc.ChunkSize = 0 // 小さいファイルなのでチャンク分割しない
	if _, err := io.Copy(wc, r); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write object %s: %w", object, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", object, err)
	}
	return URI(u.bucket, object), nil
}

// Close はクライアントを閉じます。
func (u *Uploader) Close() error {
	return u.client.Close()
}

// URI は gs://bucket/object 形式のURIを返します。
func URI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}
