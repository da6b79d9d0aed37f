package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is a mock implementation of aws.DynamoDBClient for testing.
// Items are stored under a composite key of the classroomId and email
// attributes, matching the student-account table schema.
type DynamoDBClient struct {
	tableData     map[string]map[string]map[string]types.AttributeValue
	mu            sync.RWMutex
	puts          []dynamodb.PutItemInput
	queries       []dynamodb.QueryInput
	failNextWrite bool
	failMu        sync.Mutex
}

// NewDynamoDBClient creates a new mock DynamoDB client
func NewDynamoDBClient() *DynamoDBClient {
	return &DynamoDBClient{
		tableData: make(map[string]map[string]map[string]types.AttributeValue),
		puts:      make([]dynamodb.PutItemInput, 0),
		queries:   make([]dynamodb.QueryInput, 0),
	}
}

// compositeKey derives the storage key from the classroomId and email
// attributes of an item or a key map.
func compositeKey(item map[string]types.AttributeValue) string {
	return attributeToString(item["classroomId"]) + "#" + attributeToString(item["email"])
}

func attributeToString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

// SetFailNextWrite configures the client to fail the next PutItem call
func (m *DynamoDBClient) SetFailNextWrite(fail bool) {
	m.failMu.Lock()
	defer m.failMu.Unlock()

	m.failNextWrite = fail
}

func (m *DynamoDBClient) shouldFail() bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()

	if m.failNextWrite {
		m.failNextWrite = false
		return true
	}
	return false
}

// GetItem implements the DynamoDBClient interface for point reads.
func (m *DynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tableData[*params.TableName]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, ok := table[compositeKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// PutItem implements the DynamoDBClient interface for upserts.
func (m *DynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.shouldFail() {
		return nil, fmt.Errorf("simulated put failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts = append(m.puts, *params)

	tableName := *params.TableName
	if _, exists := m.tableData[tableName]; !exists {
		m.tableData[tableName] = make(map[string]map[string]types.AttributeValue)
	}
	m.tableData[tableName][compositeKey(params.Item)] = params.Item

	return &dynamodb.PutItemOutput{}, nil
}

// Query implements the DynamoDBClient interface for partition queries. Only
// the classroomId equality condition used by the registry is supported: every
// item whose classroomId matches the :hkey value is returned.
func (m *DynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, *params)

	hkey := attributeToString(params.ExpressionAttributeValues[":hkey"])

	var items []map[string]types.AttributeValue
	if table, exists := m.tableData[*params.TableName]; exists {
		for _, item := range table {
			if attributeToString(item["classroomId"]) == hkey {
				items = append(items, item)
			}
		}
	}

	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

// SeedItem stores an item directly, bypassing PutItem bookkeeping
func (m *DynamoDBClient) SeedItem(tableName string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tableData[tableName]; !exists {
		m.tableData[tableName] = make(map[string]map[string]types.AttributeValue)
	}
	m.tableData[tableName][compositeKey(item)] = item
}

// StoredItem returns the item stored for (classroomID, email), or nil
func (m *DynamoDBClient) StoredItem(tableName, classroomID, email string) map[string]types.AttributeValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tableData[tableName]
	if !exists {
		return nil
	}
	return table[classroomID+"#"+email]
}

// Puts returns the PutItem requests that were made
func (m *DynamoDBClient) Puts() []dynamodb.PutItemInput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
