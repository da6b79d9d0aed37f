package mock

import (
	"context"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// CloudFormationClient is a mock implementation of aws.CloudFormationClient
// for testing. Created stacks go straight to CREATE_COMPLETE, with outputs
// configured through SetStackOutputs.
type CloudFormationClient struct {
	outputs   map[string]map[string]string
	mu        sync.Mutex
	creates   []cloudformation.CreateStackInput
	deletes   []cloudformation.DeleteStackInput
	createErr error
}

// NewCloudFormationClient creates a new mock stack-engine client
func NewCloudFormationClient() *CloudFormationClient {
	return &CloudFormationClient{outputs: make(map[string]map[string]string)}
}

// SetStackOutputs configures the outputs DescribeStacks reports for stackName
func (m *CloudFormationClient) SetStackOutputs(stackName string, outputs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[stackName] = outputs
}

// SetCreateError makes every CreateStack call fail with err
func (m *CloudFormationClient) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// CreateStack implements the CloudFormationClient interface.
func (m *CloudFormationClient) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates = append(m.creates, *params)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &cloudformation.CreateStackOutput{
		StackId: sdkaws.String("arn:aws:cloudformation:us-east-1:000000000000:stack/" + sdkaws.ToString(params.StackName) + "/mock"),
	}, nil
}

// DeleteStack implements the CloudFormationClient interface.
func (m *CloudFormationClient) DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes = append(m.deletes, *params)
	return &cloudformation.DeleteStackOutput{}, nil
}

// DescribeStacks implements the CloudFormationClient interface.
func (m *CloudFormationClient) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := sdkaws.ToString(params.StackName)
	outputs, ok := m.outputs[name]
	if !ok {
		return nil, fmt.Errorf("ValidationError: stack %s does not exist", name)
	}

	stack := cftypes.Stack{
		StackName:   sdkaws.String(name),
		StackStatus: cftypes.StackStatusCreateComplete,
	}
	for key, value := range outputs {
		stack.Outputs = append(stack.Outputs, cftypes.Output{
			OutputKey:   sdkaws.String(key),
			OutputValue: sdkaws.String(value),
		})
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{stack}}, nil
}

// Creates returns the CreateStack requests that were made
func (m *CloudFormationClient) Creates() []cloudformation.CreateStackInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cloudformation.CreateStackInput(nil), m.creates...)
}

// Deletes returns the DeleteStack requests that were made
func (m *CloudFormationClient) Deletes() []cloudformation.DeleteStackInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cloudformation.DeleteStackInput(nil), m.deletes...)
}
