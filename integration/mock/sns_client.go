package mock

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSClient is a mock implementation of aws.SNSClient for testing.
type SNSClient struct {
	mu        sync.Mutex
	publishes []sns.PublishInput
}

// NewSNSClient creates a new mock notification client
func NewSNSClient() *SNSClient {
	return &SNSClient{}
}

// Publish implements the SNSClient interface.
func (m *SNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.publishes = append(m.publishes, *params)
	return &sns.PublishOutput{}, nil
}

// Publishes returns the publish requests that were made
func (m *SNSClient) Publishes() []sns.PublishInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sns.PublishInput(nil), m.publishes...)
}
