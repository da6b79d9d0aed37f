// Package grading fans a grading invocation out across every student in a
// classroom. Each student's pipeline runs concurrently and in isolation:
// delegate, invoke the grading function, parse the report, publish it to the
// student's own notification topic. One student's failure never aborts or
// delays the others.
package grading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	json "github.com/goccy/go-json"

	"github.com/classlab/lab-orchestrator/aws"
	"github.com/classlab/lab-orchestrator/config"
	"github.com/classlab/lab-orchestrator/delegation"
	"github.com/classlab/lab-orchestrator/registry"
)

// ClientFactory builds the per-delegation notification client used to
// publish each student's report under that student's own session.
type ClientFactory interface {
	SNS(creds sdkaws.Credentials) aws.SNSClient
}

// invocationPayload is the sole input to the grading function: the delegated
// session it should grade with. Field names are part of the grading function
// contract.
type invocationPayload struct {
	AccessKey       string `json:"aws_access_key"`
	SecretAccessKey string `json:"aws_secret_access_key"`
	SessionToken    string `json:"aws_session_token"`
}

// invocationResponse is the structured report the grading function returns.
type invocationResponse struct {
	TestResult string `json:"testResult"`
}

// Result is one student's outcome. Err is set when any step of that
// student's pipeline failed; Report is the grading report otherwise.
type Result struct {
	Email  string
	Report string
	Err    error
}

// Grader runs the classroom fan-out.
type Grader struct {
	cfg               *config.Config
	store             registry.Store
	broker            delegation.Broker
	lambdaClient      aws.LambdaClient
	factory           ClientFactory
	operatorAccountID string
	logger            *slog.Logger
}

// NewGrader creates a new Grader instance. operatorAccountID is the account
// the cross-account role names embed.
func NewGrader(
	cfg *config.Config,
	store registry.Store,
	broker delegation.Broker,
	lambdaClient aws.LambdaClient,
	factory ClientFactory,
	operatorAccountID string,
	logger *slog.Logger,
) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{
		cfg:               cfg,
		store:             store,
		broker:            broker,
		lambdaClient:      lambdaClient,
		factory:           factory,
		operatorAccountID: operatorAccountID,
		logger:            logger,
	}
}

// GradeClassroom enumerates the classroom partition and runs one pipeline per
// student concurrently. It returns once every pipeline has settled; results
// arrive in completion order. The enumeration query failing is the only
// error returned from the call itself.
func (g *Grader) GradeClassroom(ctx context.Context, classroomID, functionName string) ([]Result, error) {
	students, err := g.store.Query(ctx, classroomID)
	if err != nil {
		return nil, err
	}

	results := make(chan Result, len(students))
	var wg sync.WaitGroup
	for _, student := range students {
		wg.Add(1)
		go func(student registry.StudentAccountRecord) {
			defer wg.Done()
			report, err := g.gradeStudent(ctx, student, functionName)
			if err != nil {
				g.logger.Warn("student pipeline failed",
					"classroomId", classroomID, "email", student.Email, "error", err)
			}
			results <- Result{Email: student.Email, Report: report, Err: err}
		}(student)
	}
	wg.Wait()
	close(results)

	collected := make([]Result, 0, len(students))
	for result := range results {
		collected = append(collected, result)
	}
	return collected, nil
}

// gradeStudent runs one isolated pipeline: delegate, invoke, parse, publish.
// The publish uses a second delegation so the invocation session's blast
// radius stays bounded to the invocation.
func (g *Grader) gradeStudent(ctx context.Context, student registry.StudentAccountRecord, functionName string) (string, error) {
	roleArn := g.cfg.CrossAccountRoleArn(student.AWSAccountID, g.operatorAccountID)

	invokeSession, err := g.broker.Delegate(ctx, roleArn)
	if err != nil {
		return "", err
	}

	report, err := g.invoke(ctx, invokeSession, functionName)
	if err != nil {
		return "", err
	}

	publishSession, err := g.broker.Delegate(ctx, roleArn)
	if err != nil {
		return "", err
	}
	if err := g.publish(ctx, publishSession, student.NotifyStudentTopic, report); err != nil {
		return "", err
	}

	return report, nil
}

// invoke calls the grading function synchronously with the delegated session
// as its sole payload and parses the structured report from the response.
// The function itself runs in the operator account, so the call goes through
// the operator's own client; the delegated session travels only as data.
func (g *Grader) invoke(ctx context.Context, session delegation.Session, functionName string) (string, error) {
	payload, err := json.Marshal(invocationPayload{
		AccessKey:       session.AccessKeyID,
		SecretAccessKey: session.SecretAccessKey,
		SessionToken:    session.SessionToken,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal grading payload: %w", err)
	}

	out, err := g.lambdaClient.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   sdkaws.String(functionName),
		Payload:        payload,
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke grading function %s: %w", functionName, err)
	}
	if out.FunctionError != nil {
		return "", fmt.Errorf("grading function %s failed: %s", functionName, sdkaws.ToString(out.FunctionError))
	}

	var response invocationResponse
	if err := json.Unmarshal(out.Payload, &response); err != nil {
		return "", fmt.Errorf("grading function %s returned a malformed report: %w", functionName, err)
	}
	if response.TestResult == "" {
		return "", fmt.Errorf("grading function %s returned an empty report", functionName)
	}
	return response.TestResult, nil
}

// publish delivers the report to the student's private notification topic.
func (g *Grader) publish(ctx context.Context, session delegation.Session, topicArn, report string) error {
	client := g.factory.SNS(session.Credentials())
	_, err := client.Publish(ctx, &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(report),
	})
	if err != nil {
		return fmt.Errorf("failed to publish grading report to %s: %w", topicArn, err)
	}
	return nil
}
