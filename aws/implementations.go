// Package aws provides narrow interfaces over the AWS service clients the
// orchestrator depends on. This file contains the concrete implementations
// of the service interfaces and the session-scoped client factory.
package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DynamoDBClientImpl implements DynamoDBClient using the AWS SDK.
type DynamoDBClientImpl struct {
	client *dynamodb.Client
}

// NewDynamoDBClient creates a new DynamoDBClientImpl instance
func NewDynamoDBClient(client *dynamodb.Client) *DynamoDBClientImpl {
	return &DynamoDBClientImpl{client: client}
}

// GetItem implements the DynamoDBClient interface for point reads
func (c *DynamoDBClientImpl) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return c.client.GetItem(ctx, params, optFns...)
}

// PutItem implements the DynamoDBClient interface for upserts
func (c *DynamoDBClientImpl) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return c.client.PutItem(ctx, params, optFns...)
}

// Query implements the DynamoDBClient interface for partition range queries
func (c *DynamoDBClientImpl) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return c.client.Query(ctx, params, optFns...)
}

// S3ClientImpl implements S3Client using the AWS SDK.
type S3ClientImpl struct {
	client *s3.Client
}

// NewS3Client creates a new S3ClientImpl instance
func NewS3Client(client *s3.Client) *S3ClientImpl {
	return &S3ClientImpl{client: client}
}

// GetObject implements the S3Client interface for reading objects
func (c *S3ClientImpl) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return c.client.GetObject(ctx, params, optFns...)
}

// STSClientImpl implements STSClient using the AWS SDK.
type STSClientImpl struct {
	client *sts.Client
}

// NewSTSClient creates a new STSClientImpl instance
func NewSTSClient(client *sts.Client) *STSClientImpl {
	return &STSClientImpl{client: client}
}

// AssumeRole implements the STSClient interface for cross-account delegation
func (c *STSClientImpl) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	return c.client.AssumeRole(ctx, params, optFns...)
}

// GetCallerIdentity implements the STSClient interface for identity resolution
func (c *STSClientImpl) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return c.client.GetCallerIdentity(ctx, params, optFns...)
}

// IAMClientImpl implements IAMClient using the AWS SDK.
type IAMClientImpl struct {
	client *iam.Client
}

// NewIAMClient creates a new IAMClientImpl instance
func NewIAMClient(client *iam.Client) *IAMClientImpl {
	return &IAMClientImpl{client: client}
}

// SimulatePrincipalPolicy implements the IAMClient interface for permission simulation
func (c *IAMClientImpl) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	return c.client.SimulatePrincipalPolicy(ctx, params, optFns...)
}

// ScopedConfig returns an SDK configuration bound to a single set of
// credentials. Every privileged downstream call goes through a client built
// from one of these, so the credentials for one operation never bleed into
// another.
func ScopedConfig(region string, creds sdkaws.Credentials) sdkaws.Config {
	return sdkaws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken,
		),
	}
}

// ClientFactory builds per-operation service clients from a single set of
// credentials. Components depend on the narrow per-package factory interfaces
// they declare; ScopedFactory satisfies all of them.
type ScopedFactory struct {
	region string
}

// NewScopedFactory creates a factory whose clients all target the given region
func NewScopedFactory(region string) *ScopedFactory {
	return &ScopedFactory{region: region}
}

// CloudFormation returns a stack-engine client scoped to the given credentials
func (f *ScopedFactory) CloudFormation(creds sdkaws.Credentials) CloudFormationClient {
	return cloudformation.NewFromConfig(ScopedConfig(f.region, creds))
}

// Lambda returns a function-invocation client scoped to the given credentials
func (f *ScopedFactory) Lambda(creds sdkaws.Credentials) LambdaClient {
	return lambda.NewFromConfig(ScopedConfig(f.region, creds))
}

// SNS returns a notification client scoped to the given credentials
func (f *ScopedFactory) SNS(creds sdkaws.Credentials) SNSClient {
	return sns.NewFromConfig(ScopedConfig(f.region, creds))
}

// EC2 returns a keypair client scoped to the given credentials
func (f *ScopedFactory) EC2(creds sdkaws.Credentials) EC2Client {
	return ec2.NewFromConfig(ScopedConfig(f.region, creds))
}

// STS returns an identity client scoped to the given credentials
func (f *ScopedFactory) STS(creds sdkaws.Credentials) STSClient {
	return sts.NewFromConfig(ScopedConfig(f.region, creds))
}
