package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is a mock implementation of aws.S3Client for testing. Objects are
// held in memory keyed by "bucket/key".
type S3Client struct {
	objects map[string][]byte
	mu      sync.RWMutex
	gets    []string
}

// NewS3Client creates a new mock S3 client
func NewS3Client() *S3Client {
	return &S3Client{objects: make(map[string][]byte)}
}

// PutObject stores an object for later retrieval
func (m *S3Client) PutObject(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = body
}

// GetObject implements the S3Client interface.
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := *params.Bucket + "/" + *params.Key
	m.gets = append(m.gets, path)

	body, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: s3://%s", path)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

// Gets returns the "bucket/key" paths fetched so far
func (m *S3Client) Gets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets
}
