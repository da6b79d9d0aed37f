package mock

import (
	"context"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// LambdaClient is a mock implementation of aws.LambdaClient for testing.
// Responses are configured per function name; unconfigured functions return
// an empty payload.
type LambdaClient struct {
	responses map[string][]byte
	mu        sync.Mutex
	invokes   []lambda.InvokeInput
}

// NewLambdaClient creates a new mock function-invocation client
func NewLambdaClient() *LambdaClient {
	return &LambdaClient{responses: make(map[string][]byte)}
}

// SetResponse configures the payload returned for functionName
func (m *LambdaClient) SetResponse(functionName string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[functionName] = payload
}

// Invoke implements the LambdaClient interface.
func (m *LambdaClient) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invokes = append(m.invokes, *params)

	payload := m.responses[sdkaws.ToString(params.FunctionName)]
	return &lambda.InvokeOutput{StatusCode: 200, Payload: payload}, nil
}

// Invokes returns the invocation requests that were made
func (m *LambdaClient) Invokes() []lambda.InvokeInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]lambda.InvokeInput(nil), m.invokes...)
}
