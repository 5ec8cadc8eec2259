package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/storage"
)

var s3Tracer = observability.Tracer("storage/s3")

// ErrObjectNotFound is returned by Get for a missing key
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// S3Client handles object storage operations against one bucket
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates an S3 client, creating the bucket if it does not exist
func NewS3Client(ctx context.Context, cfg storage.Config) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials for MinIO or explicit keys; otherwise the default chain
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	if err := ensureBucket(ctx, client, cfg.S3Bucket); err != nil {
		return nil, err
	}

	return &S3Client{client: client, bucket: cfg.S3Bucket}, nil
}

// Put stores data under key with a sha256 checksum in the object metadata
func (c *S3Client) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	ctx, span := s3Tracer.Start(ctx, "S3.PutObject", trace.WithAttributes(
		attribute.String("s3.bucket", c.bucket),
		attribute.String("s3.key", key),
		attribute.Int("content.size", len(data)),
	))
	defer span.End()

	sum := sha256.Sum256(data)
	meta := map[string]string{"checksum-sha256": hex.EncodeToString(sum[:])}
	for k, v := range metadata {
		meta[k] = v
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}

	return nil
}

// Get opens an object. The caller must close the returned body.
func (c *S3Client) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	ctx, span := s3Tracer.Start(ctx, "S3.GetObject", trace.WithAttributes(
		attribute.String("s3.bucket", c.bucket),
		attribute.String("s3.key", key),
	))
	defer span.End()

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrObjectNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get failed")
		return nil, nil, fmt.Errorf("failed to get object from s3: %w", err)
	}

	info := &ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}

	return out.Body, info, nil
}

// Delete removes an object
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List returns every object under prefix. Metadata and content type are
// not populated.
func (c *S3Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := s3Tracer.Start(ctx, "S3.ListObjects", trace.WithAttributes(
		attribute.String("s3.bucket", c.bucket),
		attribute.String("s3.prefix", prefix),
	))
	defer span.End()

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}

	span.SetAttributes(attribute.Int("s3.objects", len(objects)))
	return objects, nil
}

// DeleteOlderThan removes objects under prefix last modified before cutoff
func (c *S3Client) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, obj := range objects {
		if obj.LastModified.IsZero() || !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := c.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}

// HealthCheck verifies the bucket is reachable
func (c *S3Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
