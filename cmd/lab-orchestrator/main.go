// Package main implements the command-line interface for the cross-account
// lab lifecycle orchestrator. One subcommand per entry point: onboard,
// create-stack, delete-stack, grade.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	json "github.com/goccy/go-json"

	"github.com/classlab/lab-orchestrator/aws"
	"github.com/classlab/lab-orchestrator/config"
	"github.com/classlab/lab-orchestrator/delegation"
	"github.com/classlab/lab-orchestrator/grading"
	"github.com/classlab/lab-orchestrator/objectstore"
	"github.com/classlab/lab-orchestrator/orchestrator"
	"github.com/classlab/lab-orchestrator/provision"
	"github.com/classlab/lab-orchestrator/registry"
	"github.com/classlab/lab-orchestrator/stack"
	"github.com/classlab/lab-orchestrator/trigger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

const usage = "usage: lab-orchestrator <onboard|create-stack|delete-stack|grade> [flags]"

// run dispatches the subcommand, builds the shared configuration and client
// wiring, and executes one orchestrator entry point.
func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("%s", usage)
	}
	operation := os.Args[1]
	switch operation {
	case "onboard", "create-stack", "delete-stack", "grade":
	default:
		return fmt.Errorf("unknown operation %q\n%s", operation, usage)
	}

	fs := flag.NewFlagSet(operation, flag.ExitOnError)

	// Shared flags
	tableName := fs.String("table", "", "DynamoDB table holding student account records")
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	rolePrefix := fs.String("role-prefix", config.DefaultRolePrefix, "Cross-account role name prefix")
	preflight := fs.Bool("preflight", false, "Simulate the assume-role permission before each delegation")
	triggerFile := fs.String("trigger", "", "Path to a raw trigger document to normalize instead of flags")

	// Per-operation flags
	classroomID := fs.String("classroom", "", "Classroom id")
	email := fs.String("email", "", "Student email")
	functionName := fs.String("function", "", "Grading function name (grade)")
	stackName := fs.String("stack", "", "Lab stack name (create-stack, delete-stack)")
	bucket := fs.String("bucket", "", "Bucket holding the lab template and parameters (create-stack)")
	templateKey := fs.String("template-key", "", "Object key of the lab template (create-stack)")
	parametersKey := fs.String("parameters-key", "", "Object key of the parameter document (create-stack)")
	rdpFileURL := fs.String("rdp-url", "", "RDP helper file URL substituted into lab parameters")
	pemKeyFileURL := fs.String("pem-url", "", "PEM key helper file URL substituted into lab parameters")
	blobFile := fs.String("credential-blob", "", "Path to the student's raw credential blob (onboard)")
	accessKey := fs.String("access-key", "", "Student long-lived access key id (onboard)")
	secretKey := fs.String("secret-key", "", "Student long-lived secret access key (onboard)")
	sandboxTemplate := fs.String("sandbox-template", "InitStudentAccount.yaml", "Path to the sandbox stack template (onboard)")
	stackTimeout := fs.Duration("stack-timeout", 20*time.Minute, "Upper bound on the sandbox stack wait (onboard)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &config.Config{
		StudentAccountTable: *tableName,
		Region:              *region,
		RdpFileURL:          *rdpFileURL,
		PemKeyFileURL:       *pemKeyFileURL,
		RolePrefix:          *rolePrefix,
		SandboxStackPrefix:  config.DefaultSandboxStackPrefix,
		StackCreateTimeout:  *stackTimeout,
		PreflightChecks:     *preflight,
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Operator-scoped clients
	stsClient := aws.NewSTSClient(sts.NewFromConfig(awsCfg))
	store := registry.NewDynamoDBStore(aws.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg)), cfg.StudentAccountTable)
	fetcher := objectstore.NewS3Fetcher(aws.NewS3Client(s3.NewFromConfig(awsCfg)))
	factory := aws.NewScopedFactory(cfg.Region)

	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("failed to resolve operator identity: %w", err)
	}
	operatorAccountID := sdkaws.ToString(identity.Account)

	var broker delegation.Broker
	if cfg.PreflightChecks {
		broker = delegation.NewPreflightSTSBroker(stsClient, aws.NewIAMClient(iam.NewFromConfig(awsCfg)), sdkaws.ToString(identity.Arn))
	} else {
		broker = delegation.NewSTSBroker(stsClient)
	}

	stacks := stack.NewManager(broker, factory)
	grader := grading.NewGrader(cfg, store, broker, lambda.NewFromConfig(awsCfg), factory, operatorAccountID, logger)

	var provisioner orchestrator.Provisioner
	if operation == "onboard" {
		templateBody, err := os.ReadFile(*sandboxTemplate)
		if err != nil {
			return fmt.Errorf("failed to read sandbox template: %w", err)
		}
		provisioner = provision.NewProvisioner(cfg, stsClient, factory, stack.CreateCompleteWaiter{}, store, string(templateBody), logger)
	}

	orch := orchestrator.NewOrchestrator(cfg, store, fetcher, provisioner, stacks, grader, operatorAccountID)

	cmd, err := resolveCommand(ctx, fetcher, *triggerFile, trigger.Command{
		ClassroomID:   *classroomID,
		Email:         *email,
		FunctionName:  *functionName,
		StackName:     *stackName,
		Bucket:        *bucket,
		TemplateKey:   *templateKey,
		ParametersKey: *parametersKey,
		AccessKey:     *accessKey,
		SecretKey:     *secretKey,
	}, *blobFile)
	if err != nil {
		return err
	}

	switch operation {
	case "onboard":
		record, err := orch.Onboard(ctx, cmd)
		if err != nil {
			return fmt.Errorf("onboarding failed: %w", err)
		}
		fmt.Printf("Onboarded %s/%s in account %s\n", record.ClassroomID, record.Email, record.AWSAccountID)
		return nil

	case "create-stack":
		handle, err := orch.CreateLabStack(ctx, cmd)
		if err != nil {
			return fmt.Errorf("lab stack creation failed: %w", err)
		}
		fmt.Printf("Creating stack %s (%s); completion reports to the student's topic\n", cmd.StackName, handle.StackID)
		return nil

	case "delete-stack":
		if err := orch.DeleteLabStack(ctx, cmd); err != nil {
			return fmt.Errorf("lab stack deletion failed: %w", err)
		}
		fmt.Printf("Deleting stack %s\n", cmd.StackName)
		return nil

	case "grade":
		results, report, err := orch.GradeClassroom(ctx, cmd)
		if err != nil {
			return fmt.Errorf("grading failed: %w", err)
		}
		for _, result := range results {
			if result.Err != nil {
				fmt.Printf("%s: FAILED: %v\n", result.Email, result.Err)
			} else {
				fmt.Printf("%s: %s\n", result.Email, result.Report)
			}
		}
		fmt.Println(report)
		return nil
	}
	return nil
}

// resolveCommand produces the canonical command: from a raw trigger document
// when one is given, otherwise from the parsed flags.
func resolveCommand(ctx context.Context, fetcher objectstore.Fetcher, triggerFile string, flagCmd trigger.Command, blobFile string) (trigger.Command, error) {
	if triggerFile != "" {
		raw, err := os.ReadFile(triggerFile)
		if err != nil {
			return trigger.Command{}, fmt.Errorf("failed to read trigger document: %w", err)
		}
		normalizer := trigger.NewNormalizer(fetcher)
		cmd, err := normalizer.Normalize(ctx, raw)
		if err != nil {
			return trigger.Command{}, err
		}
		// Credential material never reaches stdout.
		redacted := cmd
		redacted.RawKey = ""
		redacted.AccessKey = ""
		redacted.SecretKey = ""
		dump, _ := json.Marshal(redacted)
		fmt.Printf("Normalized trigger: %s\n", dump)
		return cmd, nil
	}

	if blobFile != "" {
		blob, err := os.ReadFile(blobFile)
		if err != nil {
			return trigger.Command{}, fmt.Errorf("failed to read credential blob: %w", err)
		}
		flagCmd.RawKey = string(blob)
	}
	return flagCmd, nil
}
