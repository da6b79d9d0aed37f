// Package delegation obtains short-lived delegated credentials for a target
// role in a student account. Every privileged downstream call is scoped to
// exactly one delegation; sessions are never cached or shared.
package delegation

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/classlab/lab-orchestrator/aws"
)

// SessionName tags every assumed-role session so student-account CloudTrail
// entries are attributable to the orchestrator.
const SessionName = "studentAccount"

// DelegationError is returned when the trust policy does not permit
// delegation from the operator identity or the target role does not exist.
// It is fatal for the single operation that attempted it.
type DelegationError struct {
	RoleArn string
	Err     error
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("failed to delegate into %s: %v", e.RoleArn, e.Err)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// Session is one set of temporary delegated credentials. It is owned by the
// call that created it and discarded when that call returns.
type Session struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
}

// Credentials converts the session into SDK credentials for building a
// session-scoped client.
func (s Session) Credentials() sdkaws.Credentials {
	return sdkaws.Credentials{
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		SessionToken:    s.SessionToken,
		CanExpire:       true,
		Expires:         s.Expiry,
	}
}

// Broker obtains a fresh delegated session for a role ARN.
type Broker interface {
	Delegate(ctx context.Context, roleArn string) (Session, error)
}

// STSBroker implements Broker over STS AssumeRole. Each Delegate call
// requests a new session; nothing is retained after the call returns.
type STSBroker struct {
	client aws.STSClient

	// Optional preflight: when both are set, Delegate simulates
	// sts:AssumeRole for the operator principal before calling out, so a
	// broken trust policy fails fast with a clear error.
	iamClient aws.IAMClient
	sourceArn string
}

// NewSTSBroker creates a broker that delegates via the given STS client.
func NewSTSBroker(client aws.STSClient) *STSBroker {
	return &STSBroker{client: client}
}

// NewPreflightSTSBroker creates a broker that simulates the assume-role
// permission for sourceArn before every delegation.
func NewPreflightSTSBroker(client aws.STSClient, iamClient aws.IAMClient, sourceArn string) *STSBroker {
	return &STSBroker{client: client, iamClient: iamClient, sourceArn: sourceArn}
}

// Delegate requests a new delegated session for roleArn. Failures are wrapped
// in DelegationError so fan-out callers can capture them without aborting
// sibling pipelines.
func (b *STSBroker) Delegate(ctx context.Context, roleArn string) (Session, error) {
	if b.iamClient != nil {
		if err := b.preflight(ctx, roleArn); err != nil {
			return Session{}, err
		}
	}

	out, err := b.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         sdkaws.String(roleArn),
		RoleSessionName: sdkaws.String(SessionName),
	})
	if err != nil {
		return Session{}, &DelegationError{RoleArn: roleArn, Err: err}
	}
	creds := out.Credentials
	if creds == nil {
		return Session{}, &DelegationError{RoleArn: roleArn, Err: fmt.Errorf("assume role returned no credentials")}
	}

	session := Session{
		AccessKeyID:     sdkaws.ToString(creds.AccessKeyId),
		SecretAccessKey: sdkaws.ToString(creds.SecretAccessKey),
		SessionToken:    sdkaws.ToString(creds.SessionToken),
	}
	if creds.Expiration != nil {
		session.Expiry = *creds.Expiration
	}
	return session, nil
}

// preflight simulates sts:AssumeRole on the target role for the operator
// principal. Only an explicit non-allowed decision fails the delegation; a
// simulation error falls through to the real AssumeRole call, which gives
// the authoritative answer.
func (b *STSBroker) preflight(ctx context.Context, roleArn string) error {
	out, err := b.iamClient.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: sdkaws.String(b.sourceArn),
		ActionNames:     []string{"sts:AssumeRole"},
		ResourceArns:    []string{roleArn},
	})
	if err != nil {
		return nil
	}
	for _, result := range out.EvaluationResults {
		if result.EvalDecision != iamtypes.PolicyEvaluationDecisionTypeAllowed {
			return &DelegationError{
				RoleArn: roleArn,
				Err:     fmt.Errorf("operator %s is not permitted to assume the role (%s)", b.sourceArn, result.EvalDecision),
			}
		}
	}
	return nil
}
