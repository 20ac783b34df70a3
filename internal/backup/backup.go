// Package backup copies the local collection blobs to S3.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/pable/racquet-metrics/internal/storage"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BlobSource lists and reads the locally stored blobs.
type BlobSource interface {
	Blobs(ctx context.Context) ([]storage.BlobInfo, error)
	LoadBlob(ctx context.Context, key string) ([]byte, int64, error)
}

// Uploader writes one object per stored blob.
type Uploader struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewUploader wraps an existing client.
func NewUploader(client S3API, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// NewUploaderFromEnv loads the default AWS configuration for region.
func NewUploaderFromEnv(ctx context.Context, region, bucket, prefix string) (*Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewUploader(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Object is one uploaded blob.
type Object struct {
	Key     string
	Version int64
	Size    int
}

// ObjectKey returns the S3 key for a blob, e.g. prefix/collection_u1/v42-20260611T101500Z.json.zst.
func (u *Uploader) ObjectKey(blobKey string, version int64, at time.Time) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(blobKey)
	return fmt.Sprintf("%s%s/v%d-%s.json.zst", u.prefix, name, version, at.UTC().Format("20060102T150405Z"))
}

// Run uploads every stored blob, zstd compressed.
func (u *Uploader) Run(ctx context.Context, src BlobSource) ([]Object, error) {
	infos, err := src.Blobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	at := u.now()
	var out []Object
	for _, info := range infos {
		blob, version, err := src.LoadBlob(ctx, info.Key)
		if err != nil {
			return out, err
		}
		if blob == nil {
			continue
		}
		packed := enc.EncodeAll(blob, nil)
		key := u.ObjectKey(info.Key, version, at)
		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:          aws.String(u.bucket),
			Key:             aws.String(key),
			Body:            bytes.NewReader(packed),
			ContentType:     aws.String("application/json"),
			ContentEncoding: aws.String("zstd"),
			Metadata: map[string]string{
				"collection-version": fmt.Sprint(version),
				"raw-size":           fmt.Sprint(len(blob)),
			},
		})
		if err != nil {
			return out, fmt.Errorf("upload %s: %w", key, err)
		}
		out = append(out, Object{Key: key, Version: version, Size: len(packed)})
	}
	return out, nil
}
