// Package provision handles first-time onboarding of a student: it creates
// the student's own sandbox stack under the credentials the student supplied,
// harvests the stack outputs, rotates the student's keypair, and writes the
// resulting registry record.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	json "github.com/goccy/go-json"

	"github.com/classlab/lab-orchestrator/aws"
	"github.com/classlab/lab-orchestrator/config"
	"github.com/classlab/lab-orchestrator/keymaterial"
	"github.com/classlab/lab-orchestrator/registry"
	"github.com/classlab/lab-orchestrator/stack"
)

// Output keys the sandbox stack must expose. Onboarding fails if any is
// absent.
const (
	OutputStackCompleteTopic = "SNSCloudFormationTopic"
	OutputNotifyStudentTopic = "NotifyStudentTopic"
	OutputKeyProviderURL     = "KeyProviderUrl"
)

// ProvisioningError is returned when the sandbox stack reaches completion but
// is missing an expected output.
type ProvisioningError struct {
	StackName     string
	MissingOutput string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("sandbox stack %s is missing required output %s", e.StackName, e.MissingOutput)
}

// ClientFactory builds service clients scoped to the student-supplied
// credentials. The sandbox stack and keypair live in the student's account,
// so every call here runs under the student's own material.
type ClientFactory interface {
	STS(creds sdkaws.Credentials) aws.STSClient
	CloudFormation(creds sdkaws.Credentials) aws.CloudFormationClient
	EC2(creds sdkaws.Credentials) aws.EC2Client
}

// Provisioner onboards students.
type Provisioner struct {
	cfg          *config.Config
	operatorSTS  aws.STSClient
	factory      ClientFactory
	waiter       stack.Waiter
	store        registry.Store
	templateBody string
	logger       *slog.Logger
}

// NewProvisioner creates a new Provisioner instance. templateBody is the
// infrastructure-as-code document for the per-student sandbox stack.
func NewProvisioner(
	cfg *config.Config,
	operatorSTS aws.STSClient,
	factory ClientFactory,
	waiter stack.Waiter,
	store registry.Store,
	templateBody string,
	logger *slog.Logger,
) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		cfg:          cfg,
		operatorSTS:  operatorSTS,
		factory:      factory,
		waiter:       waiter,
		store:        store,
		templateBody: templateBody,
		logger:       logger,
	}
}

// Provision onboards one student. It creates (or idempotently re-creates)
// the sandbox stack in the student's account, waits synchronously for it to
// complete, reads back its outputs, rotates the student's keypair, and
// upserts the registry record. This is the only place in the system that
// blocks on stack completion; the wait is bounded by the configured timeout
// and cancellable via ctx.
func (p *Provisioner) Provision(ctx context.Context, classroomID, email string, material keymaterial.Material) (registry.StudentAccountRecord, error) {
	operatorAccount, err := p.callerAccount(ctx)
	if err != nil {
		return registry.StudentAccountRecord{}, err
	}

	creds := material.Credentials()
	studentSTS := p.factory.STS(creds)
	identity, err := studentSTS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return registry.StudentAccountRecord{}, fmt.Errorf("failed to resolve student identity: %w", err)
	}

	stackName := p.cfg.SandboxStackName(operatorAccount)
	cfnClient := p.factory.CloudFormation(creds)
	if err := p.createSandboxStack(ctx, cfnClient, stackName, operatorAccount, email); err != nil {
		return registry.StudentAccountRecord{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.StackCreateTimeout)
	defer cancel()
	if err := p.waiter.WaitForCreateComplete(waitCtx, cfnClient, stackName, p.cfg.StackCreateTimeout); err != nil {
		return registry.StudentAccountRecord{}, err
	}

	outputs, err := stack.Outputs(ctx, cfnClient, stackName)
	if err != nil {
		return registry.StudentAccountRecord{}, err
	}
	for _, required := range []string{OutputStackCompleteTopic, OutputNotifyStudentTopic, OutputKeyProviderURL} {
		if outputs[required] == "" {
			return registry.StudentAccountRecord{}, &ProvisioningError{StackName: stackName, MissingOutput: required}
		}
	}

	keyPair, err := p.rotateKeyPair(ctx, creds, classroomID, operatorAccount, email)
	if err != nil {
		return registry.StudentAccountRecord{}, err
	}

	record := registry.StudentAccountRecord{
		ClassroomID:                   classroomID,
		Email:                         email,
		StudentAccountArn:             sdkaws.ToString(identity.Arn),
		AWSAccountID:                  sdkaws.ToString(identity.Account),
		LabStackCreationCompleteTopic: outputs[OutputStackCompleteTopic],
		NotifyStudentTopic:            outputs[OutputNotifyStudentTopic],
		KeyProviderURL:                outputs[OutputKeyProviderURL],
		KeyPair:                       keyPair,
	}
	if material.LongLived() {
		record.AccessKeyID = material.AccessKeyID
		record.SecretAccessKey = material.SecretAccessKey
	}

	if err := p.store.Put(ctx, record); err != nil {
		return registry.StudentAccountRecord{}, err
	}
	return record, nil
}

func (p *Provisioner) callerAccount(ctx context.Context) (string, error) {
	identity, err := p.operatorSTS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve operator identity: %w", err)
	}
	return sdkaws.ToString(identity.Account), nil
}

// createSandboxStack issues the create-stack call for the student sandbox.
// A conflict means the sandbox already exists from an earlier onboarding
// attempt; the wait and output harvest below handle it the same way.
func (p *Provisioner) createSandboxStack(ctx context.Context, client aws.CloudFormationClient, stackName, operatorAccount, email string) error {
	_, err := client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    sdkaws.String(stackName),
		TemplateBody: sdkaws.String(p.templateBody),
		Capabilities: []cftypes.Capability{
			cftypes.CapabilityCapabilityIam,
			cftypes.CapabilityCapabilityNamedIam,
		},
		Parameters: []cftypes.Parameter{
			{ParameterKey: sdkaws.String("TeacherAccountId"), ParameterValue: sdkaws.String(operatorAccount)},
			{ParameterKey: sdkaws.String("StudentEmail"), ParameterValue: sdkaws.String(email)},
		},
	})
	if err != nil {
		var alreadyExists *cftypes.AlreadyExistsException
		if errors.As(err, &alreadyExists) {
			p.logger.Info("sandbox stack already exists, reusing it", "stack", stackName)
			return nil
		}
		return fmt.Errorf("failed to create sandbox stack %s: %w", stackName, err)
	}
	return nil
}

// rotateKeyPair deletes any previous keypair with the student's deterministic
// name and creates a fresh one, returning the serialized material. The delete
// is best effort: the pair may not have existed, so failure is logged and
// suppressed. Delete-then-create is not transactional; a crash in between
// leaves the student without a keypair until onboarding is retried.
func (p *Provisioner) rotateKeyPair(ctx context.Context, creds sdkaws.Credentials, classroomID, operatorAccount, email string) (string, error) {
	client := p.factory.EC2(creds)
	keyName := KeyPairName(classroomID, operatorAccount, email)

	if _, err := client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: sdkaws.String(keyName)}); err != nil {
		p.logger.Warn("failed to delete previous keypair", "keyName", keyName, "error", err)
	}

	out, err := client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{KeyName: sdkaws.String(keyName)})
	if err != nil {
		return "", fmt.Errorf("failed to create keypair %s: %w", keyName, err)
	}

	serialized, err := json.Marshal(registry.KeyPair{
		KeyName:     sdkaws.ToString(out.KeyName),
		KeyMaterial: sdkaws.ToString(out.KeyMaterial),
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize keypair %s: %w", keyName, err)
	}
	return string(serialized), nil
}

// KeyPairName builds the deterministic per-student keypair name.
func KeyPairName(classroomID, operatorAccount, email string) string {
	return classroomID + "-" + operatorAccount + "-" + email
}
