package mock

import (
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/classlab/lab-orchestrator/aws"
)

// ClientFactory is a mock credential-scoped client factory for testing. Every
// service method hands back the same shared mock regardless of credentials,
// and records the credentials each scoped client was requested with.
type ClientFactory struct {
	CFN        *CloudFormationClient
	SNSMock    *SNSClient
	EC2Mock    *EC2Client
	StudentSTS *STSClient

	mu    sync.Mutex
	creds map[string][]sdkaws.Credentials
}

// NewClientFactory creates a factory serving the given shared mocks. The
// student STS mock stands in for identity lookups made under delegated or
// student-owned credentials.
func NewClientFactory(cfn *CloudFormationClient, snsClient *SNSClient, ec2Client *EC2Client, studentSTS *STSClient) *ClientFactory {
	return &ClientFactory{
		CFN:        cfn,
		SNSMock:    snsClient,
		EC2Mock:    ec2Client,
		StudentSTS: studentSTS,
		creds:      make(map[string][]sdkaws.Credentials),
	}
}

func (f *ClientFactory) record(service string, creds sdkaws.Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[service] = append(f.creds[service], creds)
}

// CloudFormation implements the stack and provision factory interfaces.
func (f *ClientFactory) CloudFormation(creds sdkaws.Credentials) aws.CloudFormationClient {
	f.record("cloudformation", creds)
	return f.CFN
}

// SNS implements the grading factory interface.
func (f *ClientFactory) SNS(creds sdkaws.Credentials) aws.SNSClient {
	f.record("sns", creds)
	return f.SNSMock
}

// EC2 implements the provision factory interface.
func (f *ClientFactory) EC2(creds sdkaws.Credentials) aws.EC2Client {
	f.record("ec2", creds)
	return f.EC2Mock
}

// STS implements the provision factory interface.
func (f *ClientFactory) STS(creds sdkaws.Credentials) aws.STSClient {
	f.record("sts", creds)
	return f.StudentSTS
}

// CredentialsFor returns the credentials each scoped client of the given
// service was built with, in call order
func (f *ClientFactory) CredentialsFor(service string) []sdkaws.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sdkaws.Credentials(nil), f.creds[service]...)
}
