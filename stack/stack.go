// Package stack manages infrastructure stack lifecycle in student accounts.
// Create and delete run under a fresh delegated session each; creation is
// asynchronous, with completion reported over the stack's notification topic.
package stack

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/classlab/lab-orchestrator/aws"
	"github.com/classlab/lab-orchestrator/delegation"
	"github.com/classlab/lab-orchestrator/template"
)

// StackConflictError is returned when a stack with the requested name already
// exists and is not in a replaceable state.
type StackConflictError struct {
	StackName string
	Err       error
}

func (e *StackConflictError) Error() string {
	return fmt.Sprintf("stack %s already exists: %v", e.StackName, e.Err)
}

func (e *StackConflictError) Unwrap() error { return e.Err }

// TemplateValidationError is returned when the template or parameter set is
// rejected before any resources are touched.
type TemplateValidationError struct {
	StackName string
	Err       error
}

func (e *TemplateValidationError) Error() string {
	return fmt.Sprintf("template for stack %s rejected: %v", e.StackName, e.Err)
}

func (e *TemplateValidationError) Unwrap() error { return e.Err }

// Request describes one stack operation. Built per invocation and discarded
// after the call returns.
type Request struct {
	StackName         string
	TemplateBody      string
	Parameters        []template.Parameter
	RoleArn           string
	NotificationTopic string
}

// Handle identifies a stack creation that has been accepted by the engine.
type Handle struct {
	StackID string
}

// ClientFactory builds a stack-engine client scoped to one delegated session.
type ClientFactory interface {
	CloudFormation(creds sdkaws.Credentials) aws.CloudFormationClient
}

// Manager creates and deletes stacks under delegated credentials.
type Manager struct {
	broker  delegation.Broker
	factory ClientFactory
}

// NewManager creates a new Manager instance
func NewManager(broker delegation.Broker, factory ClientFactory) *Manager {
	return &Manager{broker: broker, factory: factory}
}

// Create delegates into req.RoleArn and issues the create-stack call. The
// template may define IAM resources, so the call acknowledges the IAM
// capabilities. If a notification topic is given, stack lifecycle events are
// wired to it so a downstream listener learns when creation completes. Create
// does not wait for completion.
func (m *Manager) Create(ctx context.Context, req Request) (Handle, error) {
	session, err := m.broker.Delegate(ctx, req.RoleArn)
	if err != nil {
		return Handle{}, err
	}
	client := m.factory.CloudFormation(session.Credentials())

	input := &cloudformation.CreateStackInput{
		StackName:    sdkaws.String(req.StackName),
		TemplateBody: sdkaws.String(req.TemplateBody),
		Capabilities: []cftypes.Capability{
			cftypes.CapabilityCapabilityIam,
			cftypes.CapabilityCapabilityNamedIam,
		},
		Parameters: toStackParameters(req.Parameters),
	}
	if req.NotificationTopic != "" {
		input.NotificationARNs = []string{req.NotificationTopic}
	}

	out, err := client.CreateStack(ctx, input)
	if err != nil {
		return Handle{}, classifyCreateError(req.StackName, err)
	}
	return Handle{StackID: sdkaws.ToString(out.StackId)}, nil
}

// Delete delegates into roleArn and issues the delete-stack call. The engine
// treats deleting a nonexistent stack as a no-op, so Delete is idempotent in
// intent.
func (m *Manager) Delete(ctx context.Context, stackName, roleArn string) error {
	session, err := m.broker.Delegate(ctx, roleArn)
	if err != nil {
		return err
	}
	client := m.factory.CloudFormation(session.Credentials())

	_, err = client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: sdkaws.String(stackName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete stack %s: %w", stackName, err)
	}
	return nil
}

// classifyCreateError maps engine rejections onto the error taxonomy. Both
// classified cases are rejected before any resources are touched.
func classifyCreateError(stackName string, err error) error {
	var alreadyExists *cftypes.AlreadyExistsException
	if errors.As(err, &alreadyExists) {
		return &StackConflictError{StackName: stackName, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationError" {
		return &TemplateValidationError{StackName: stackName, Err: err}
	}

	return fmt.Errorf("failed to create stack %s: %w", stackName, err)
}

func toStackParameters(params []template.Parameter) []cftypes.Parameter {
	if len(params) == 0 {
		return nil
	}
	out := make([]cftypes.Parameter, len(params))
	for i, p := range params {
		out[i] = cftypes.Parameter{
			ParameterKey:   sdkaws.String(p.ParameterKey),
			ParameterValue: sdkaws.String(p.ParameterValue),
		}
	}
	return out
}

// Waiter blocks until a stack finishes creating. Provisioning is the only
// caller; everything else treats creation as asynchronous.
type Waiter interface {
	WaitForCreateComplete(ctx context.Context, client aws.CloudFormationClient, stackName string, maxWait time.Duration) error
}

// CreateCompleteWaiter implements Waiter using the SDK stack-create-complete
// waiter.
type CreateCompleteWaiter struct{}

// WaitForCreateComplete polls until the stack reaches CREATE_COMPLETE, the
// engine reports a terminal failure state, maxWait elapses, or ctx is
// cancelled.
func (CreateCompleteWaiter) WaitForCreateComplete(ctx context.Context, client aws.CloudFormationClient, stackName string, maxWait time.Duration) error {
	waiter := cloudformation.NewStackCreateCompleteWaiter(client)
	err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{
		StackName: sdkaws.String(stackName),
	}, maxWait)
	if err != nil {
		return fmt.Errorf("stack %s did not reach create complete: %w", stackName, err)
	}
	return nil
}

// Outputs reads the stack's outputs as a key to value map.
func Outputs(ctx context.Context, client aws.CloudFormationClient, stackName string) (map[string]string, error) {
	out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: sdkaws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s not found", stackName)
	}

	outputs := make(map[string]string, len(out.Stacks[0].Outputs))
	for _, o := range out.Stacks[0].Outputs {
		outputs[sdkaws.ToString(o.OutputKey)] = sdkaws.ToString(o.OutputValue)
	}
	return outputs, nil
}
