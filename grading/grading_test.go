package grading

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	json "github.com/goccy/go-json"

	"github.com/classlab/lab-orchestrator/aws"
	"github.com/classlab/lab-orchestrator/config"
	"github.com/classlab/lab-orchestrator/delegation"
	"github.com/classlab/lab-orchestrator/registry"
)

// mockStore implements registry.Store over a fixed student list
type mockStore struct {
	students []registry.StudentAccountRecord
}

func (s *mockStore) Get(ctx context.Context, classroomID, email string) (registry.StudentAccountRecord, error) {
	for _, rec := range s.students {
		if rec.ClassroomID == classroomID && rec.Email == email {
			return rec, nil
		}
	}
	return registry.StudentAccountRecord{}, registry.ErrNotFound
}

func (s *mockStore) Put(ctx context.Context, record registry.StudentAccountRecord) error {
	s.students = append(s.students, record)
	return nil
}

func (s *mockStore) Query(ctx context.Context, classroomID string) ([]registry.StudentAccountRecord, error) {
	var out []registry.StudentAccountRecord
	for _, rec := range s.students {
		if rec.ClassroomID == classroomID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// mockBroker implements delegation.Broker, minting distinct tokens and
// recording which role ARNs were requested
type mockBroker struct {
	mu       sync.Mutex
	calls    int
	roleArns []string
	failArn  string
}

func (m *mockBroker) Delegate(ctx context.Context, roleArn string) (delegation.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if roleArn == m.failArn {
		return delegation.Session{}, &delegation.DelegationError{RoleArn: roleArn, Err: errors.New("access denied")}
	}
	m.calls++
	m.roleArns = append(m.roleArns, roleArn)
	return delegation.Session{
		AccessKeyID:     fmt.Sprintf("ASIA%08d", m.calls),
		SecretAccessKey: "secret",
		SessionToken:    fmt.Sprintf("token-%d", m.calls),
		Expiry:          time.Now().Add(time.Hour),
	}, nil
}

// mockLambdaClient implements the aws.LambdaClient interface, recording the
// delegated session carried in each invocation payload.
type mockLambdaClient struct {
	mu       sync.Mutex
	payloads []invocationPayload
	// malformed makes every invocation return a non-JSON response body.
	malformed bool
	response  string
}

func (m *mockLambdaClient) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	var payload invocationPayload
	if err := json.Unmarshal(params.Payload, &payload); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()

	if m.malformed {
		return &lambda.InvokeOutput{Payload: []byte("not json")}, nil
	}
	body, _ := json.Marshal(invocationResponse{TestResult: m.response})
	return &lambda.InvokeOutput{Payload: body}, nil
}

// mockSNSClient implements the aws.SNSClient interface
type mockSNSClient struct {
	mu        sync.Mutex
	published map[string]string // topic -> message
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = make(map[string]string)
	}
	m.published[sdkaws.ToString(params.TopicArn)] = sdkaws.ToString(params.Message)
	return &sns.PublishOutput{}, nil
}

// mockFactory implements ClientFactory, recording the session each SNS
// client was scoped to
type mockFactory struct {
	mu    sync.Mutex
	sns   *mockSNSClient
	creds []sdkaws.Credentials
}

func (m *mockFactory) SNS(creds sdkaws.Credentials) aws.SNSClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = append(m.creds, creds)
	return m.sns
}

func testConfig() *config.Config {
	return &config.Config{
		StudentAccountTable: "StudentAccounts",
		Region:              "us-east-1",
		RolePrefix:          config.DefaultRolePrefix,
		SandboxStackPrefix:  config.DefaultSandboxStackPrefix,
		StackCreateTimeout:  20 * time.Minute,
	}
}

func student(classroomID, email, accountID string) registry.StudentAccountRecord {
	return registry.StudentAccountRecord{
		ClassroomID:        classroomID,
		Email:              email,
		AWSAccountID:       accountID,
		NotifyStudentTopic: "arn:aws:sns:us-east-1:" + accountID + ":notify",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGradeClassroomHappyPath(t *testing.T) {
	store := &mockStore{students: []registry.StudentAccountRecord{
		student("algo101", "a@x.com", "222222222222"),
		student("algo101", "b@x.com", "333333333333"),
	}}
	broker := &mockBroker{}
	lambdaClient := &mockLambdaClient{response: "<testsuite tests=\"4\" failures=\"0\"/>"}
	snsClient := &mockSNSClient{}
	factory := &mockFactory{sns: snsClient}
	grader := NewGrader(testConfig(), store, broker, lambdaClient, factory, "111111111111", discardLogger())

	results, err := grader.GradeClassroom(context.Background(), "algo101", "gradeAll")
	if err != nil {
		t.Fatalf("fan-out failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, result := range results {
		if result.Err != nil {
			t.Errorf("pipeline for %s failed: %v", result.Email, result.Err)
		}
		if result.Report == "" {
			t.Errorf("pipeline for %s returned no report", result.Email)
		}
	}

	// Every student's topic received the report.
	if len(snsClient.published) != 2 {
		t.Errorf("expected 2 publishes, got %d", len(snsClient.published))
	}

	// Role ARNs embed the student account and the operator account.
	sort.Strings(broker.roleArns)
	want := "arn:aws:iam::222222222222:role/crossaccountteacher111111111111"
	if broker.roleArns[0] != want {
		t.Errorf("unexpected role ARN %q", broker.roleArns[0])
	}
}

func TestGradeClassroomIsolatesFailures(t *testing.T) {
	// Three students; delegation fails for the middle one.
	store := &mockStore{students: []registry.StudentAccountRecord{
		student("algo101", "a@x.com", "222222222222"),
		student("algo101", "bad@x.com", "444444444444"),
		student("algo101", "c@x.com", "333333333333"),
	}}
	broker := &mockBroker{failArn: "arn:aws:iam::444444444444:role/crossaccountteacher111111111111"}
	lambdaClient := &mockLambdaClient{response: "report"}
	snsClient := &mockSNSClient{}
	grader := NewGrader(testConfig(), store, broker, lambdaClient, &mockFactory{sns: snsClient}, "111111111111", discardLogger())

	results, err := grader.GradeClassroom(context.Background(), "algo101", "gradeAll")
	if err != nil {
		t.Fatalf("fan-out failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	failures := 0
	for _, result := range results {
		if result.Err != nil {
			failures++
			if result.Email != "bad@x.com" {
				t.Errorf("wrong student failed: %s", result.Email)
			}
			var delegationErr *delegation.DelegationError
			if !errors.As(result.Err, &delegationErr) {
				t.Errorf("expected delegation error, got %v", result.Err)
			}
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly 1 failure, got %d", failures)
	}

	// The two surviving publishes still happened.
	if len(snsClient.published) != 2 {
		t.Errorf("expected 2 publishes, got %d", len(snsClient.published))
	}
}

func TestGradeClassroomMalformedReportIsPipelineFailure(t *testing.T) {
	store := &mockStore{students: []registry.StudentAccountRecord{
		student("algo101", "a@x.com", "222222222222"),
	}}
	lambdaClient := &mockLambdaClient{malformed: true}
	snsClient := &mockSNSClient{}
	grader := NewGrader(testConfig(), store, &mockBroker{}, lambdaClient, &mockFactory{sns: snsClient}, "111111111111", discardLogger())

	results, err := grader.GradeClassroom(context.Background(), "algo101", "gradeAll")
	if err != nil {
		t.Fatalf("fan-out failed: %v", err)
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Fatal("expected the single pipeline to fail on the malformed report")
	}
	if len(snsClient.published) != 0 {
		t.Error("no report should be published for a failed pipeline")
	}
}

func TestPublishUsesSecondSession(t *testing.T) {
	store := &mockStore{students: []registry.StudentAccountRecord{
		student("algo101", "a@x.com", "222222222222"),
	}}
	broker := &mockBroker{}
	lambdaClient := &mockLambdaClient{response: "report"}
	factory := &mockFactory{sns: &mockSNSClient{}}
	grader := NewGrader(testConfig(), store, broker, lambdaClient, factory, "111111111111", discardLogger())

	if _, err := grader.GradeClassroom(context.Background(), "algo101", "gradeAll"); err != nil {
		t.Fatalf("fan-out failed: %v", err)
	}

	if broker.calls != 2 {
		t.Fatalf("expected 2 delegations (invoke + publish), got %d", broker.calls)
	}
	// The payload handed to the grading function carries the first session;
	// the SNS client was scoped to the second.
	if len(lambdaClient.payloads) != 1 || len(factory.creds) != 1 {
		t.Fatal("expected one invocation and one scoped publish client")
	}
	if lambdaClient.payloads[0].SessionToken == factory.creds[0].SessionToken {
		t.Error("publish reused the invocation session")
	}
}

func TestGradeClassroomEmptyClassroom(t *testing.T) {
	grader := NewGrader(testConfig(), &mockStore{}, &mockBroker{}, &mockLambdaClient{}, &mockFactory{sns: &mockSNSClient{}}, "111111111111", discardLogger())

	results, err := grader.GradeClassroom(context.Background(), "empty", "gradeAll")
	if err != nil {
		t.Fatalf("fan-out failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
