// Package registry provides typed access to the student-account registry.
// Records are keyed by (classroomId, email); every component that touches the
// registry goes through this package so the key attribute names stay
// consistent.
package registry

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"

	"github.com/classlab/lab-orchestrator/aws"
)

// Attribute names for the composite key. The partition key is classroomId
// everywhere; earlier deployments disagreed on the name and that divergence
// is treated as a defect.
const (
	AttrClassroomID = "classroomId"
	AttrEmail       = "email"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("student account record not found")

// KeyPair is the serialized keypair material stored on a record. JSON field
// names match the EC2 CreateKeyPair response so existing records stay
// readable.
type KeyPair struct {
	KeyName     string `json:"KeyName"`
	KeyMaterial string `json:"KeyMaterial"`
}

// StudentAccountRecord is the registry entity for one onboarded student.
// It is written once by provisioning and read, never mutated, by every other
// component.
type StudentAccountRecord struct {
	ClassroomID                   string `dynamodbav:"classroomId"`
	Email                         string `dynamodbav:"email"`
	StudentAccountArn             string `dynamodbav:"studentAccountArn"`
	AWSAccountID                  string `dynamodbav:"awsAccountId"`
	LabStackCreationCompleteTopic string `dynamodbav:"labStackCreationCompleteTopic"`
	NotifyStudentTopic            string `dynamodbav:"notifyStudentTopic"`
	KeyProviderURL                string `dynamodbav:"keyProviderUrl"`
	KeyPair                       string `dynamodbav:"keyPair"`

	// Populated only when the student supplied long-lived keys instead of a
	// raw credential blob.
	AccessKeyID     string `dynamodbav:"accessKeyId,omitempty"`
	SecretAccessKey string `dynamodbav:"secretAccessKey,omitempty"`
}

// ParseKeyPair deserializes the stored keypair material.
func (r StudentAccountRecord) ParseKeyPair() (KeyPair, error) {
	var kp KeyPair
	if err := json.Unmarshal([]byte(r.KeyPair), &kp); err != nil {
		return KeyPair{}, fmt.Errorf("invalid keyPair attribute for %s/%s: %w", r.ClassroomID, r.Email, err)
	}
	return kp, nil
}

// Store defines the registry contract: point read by composite key, upsert,
// and a range query over one classroom partition.
type Store interface {
	Get(ctx context.Context, classroomID, email string) (StudentAccountRecord, error)
	Put(ctx context.Context, record StudentAccountRecord) error
	Query(ctx context.Context, classroomID string) ([]StudentAccountRecord, error)
}

// DynamoDBStore implements Store on a DynamoDB table.
type DynamoDBStore struct {
	client    aws.DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a new DynamoDBStore instance
func NewDynamoDBStore(client aws.DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

// Get retrieves the record for (classroomID, email), or ErrNotFound.
func (s *DynamoDBStore) Get(ctx context.Context, classroomID, email string) (StudentAccountRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: sdkaws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrClassroomID: &types.AttributeValueMemberS{Value: classroomID},
			AttrEmail:       &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return StudentAccountRecord{}, fmt.Errorf("failed to get student account %s/%s: %w", classroomID, email, err)
	}
	if out.Item == nil {
		return StudentAccountRecord{}, ErrNotFound
	}

	var record StudentAccountRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return StudentAccountRecord{}, fmt.Errorf("failed to unmarshal student account %s/%s: %w", classroomID, email, err)
	}
	return record, nil
}

// Put upserts the record, overwriting any prior record for the same key.
// There is no conditional-write guard; concurrent onboarding of the same
// student is last-writer-wins.
func (s *DynamoDBStore) Put(ctx context.Context, record StudentAccountRecord) error {
	if record.ClassroomID == "" || record.Email == "" {
		return fmt.Errorf("student account record requires classroomId and email")
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal student account %s/%s: %w", record.ClassroomID, record.Email, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: sdkaws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put student account %s/%s: %w", record.ClassroomID, record.Email, err)
	}
	return nil
}

// Query returns every record in the classroom partition, following
// pagination so classrooms larger than one response page are enumerated
// completely.
func (s *DynamoDBStore) Query(ctx context.Context, classroomID string) ([]StudentAccountRecord, error) {
	var records []StudentAccountRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              sdkaws.String(s.tableName),
			KeyConditionExpression: sdkaws.String("classroomId = :hkey"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":hkey": &types.AttributeValueMemberS{Value: classroomID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query classroom %s: %w", classroomID, err)
		}

		for _, item := range out.Items {
			var record StudentAccountRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal student account in classroom %s: %w", classroomID, err)
			}
			records = append(records, record)
		}

		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
