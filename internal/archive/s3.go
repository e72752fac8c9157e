// Package archive copies rendered receipts to S3-compatible object storage
// (Cloudflare R2 in production).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config locates the archive bucket.
type Config struct {
	Bucket    string
	Endpoint  string // empty for AWS S3
	Region    string
	AccessKey string
	SecretKey string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive uploads receipt PDFs.
type S3Archive struct {
	client putObjectAPI
	bucket string
}

// NewS3Archive builds an S3 client for cfg.
func NewS3Archive(ctx context.Context, cfg Config) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure archive client: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archive{client: client, bucket: cfg.Bucket}, nil
}

// Key is the object key for a receipt: receipts/<yyyy>/<mm>/<sale_id>.pdf.
func Key(saleID int64, settledAt time.Time) string {
	return fmt.Sprintf("receipts/%04d/%02d/%d.pdf", settledAt.Year(), int(settledAt.Month()), saleID)
}

// Upload stores pdf under Key(saleID, settledAt) and returns the key.
func (a *S3Archive) Upload(ctx context.Context, saleID int64, settledAt time.Time, pdf []byte) (string, error) {
	key := Key(saleID, settledAt)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pdf),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// Nop is used when no bucket is configured.
type Nop struct{}

func (Nop) Upload(_ context.Context, saleID int64, settledAt time.Time, _ []byte) (string, error) {
	return "", nil
}
