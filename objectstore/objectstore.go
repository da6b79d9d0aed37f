// Package objectstore fetches whole documents from object storage: lab stack
// templates, parameter documents, and trimmed inbound-email bodies.
package objectstore

import (
	"context"
	"fmt"
	"io"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/classlab/lab-orchestrator/aws"
)

// Fetcher retrieves one object as bytes.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// S3Fetcher implements Fetcher using AWS S3.
type S3Fetcher struct {
	client aws.S3Client
}

// NewS3Fetcher creates a new S3Fetcher instance
func NewS3Fetcher(client aws.S3Client) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// Fetch reads the full body of s3://bucket/key.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(bucket),
		Key:    sdkaws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return body, nil
}
