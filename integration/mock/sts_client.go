package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
)

// STSClient is a mock implementation of aws.STSClient for testing. Every
// AssumeRole call mints a distinct session token so tests can tell delegated
// sessions apart.
type STSClient struct {
	account   string
	callerArn string
	failRoles map[string]error
	mu        sync.Mutex
	assumed   []string
	sessions  int
}

// NewSTSClient creates a mock identity service for the given operator account
func NewSTSClient(account string) *STSClient {
	return &STSClient{
		account:   account,
		callerArn: fmt.Sprintf("arn:aws:iam::%s:user/operator", account),
		failRoles: make(map[string]error),
	}
}

// FailRole makes AssumeRole fail for the given role ARN
func (m *STSClient) FailRole(roleArn string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRoles[roleArn] = err
}

// AssumeRole implements the STSClient interface.
func (m *STSClient) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roleArn := sdkaws.ToString(params.RoleArn)
	m.assumed = append(m.assumed, roleArn)

	if err, ok := m.failRoles[roleArn]; ok {
		return nil, err
	}

	m.sessions++
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     sdkaws.String(fmt.Sprintf("ASIA%08d", m.sessions)),
			SecretAccessKey: sdkaws.String(fmt.Sprintf("secret-%d", m.sessions)),
			SessionToken:    sdkaws.String(fmt.Sprintf("token-%d", m.sessions)),
			Expiration:      sdkaws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

// GetCallerIdentity implements the STSClient interface.
func (m *STSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: sdkaws.String(m.account),
		Arn:     sdkaws.String(m.callerArn),
	}, nil
}

// AssumedRoles returns the role ARNs requested so far, in call order
func (m *STSClient) AssumedRoles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.assumed...)
}
