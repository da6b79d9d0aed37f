// Package orchestrator exposes one entry point per responsibility: onboard a
// student, create or delete a lab stack in a student account, and grade a
// classroom. Every entry point accepts a canonical command produced by the
// trigger normalizer.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/classlab/lab-orchestrator/config"
	"github.com/classlab/lab-orchestrator/grading"
	"github.com/classlab/lab-orchestrator/keymaterial"
	"github.com/classlab/lab-orchestrator/metrics"
	"github.com/classlab/lab-orchestrator/objectstore"
	"github.com/classlab/lab-orchestrator/registry"
	"github.com/classlab/lab-orchestrator/stack"
	"github.com/classlab/lab-orchestrator/template"
	"github.com/classlab/lab-orchestrator/trigger"
)

// Placeholder tokens the lab parameter documents pre-declare. Substitution
// fills them by value identity at launch time.
const (
	PlaceholderStudentAccountArn = "###studentAccountArn###"
	PlaceholderKeyPairName       = "###keyPairName###"
	PlaceholderKeyMaterial       = "###KeyMaterial###"
	PlaceholderRdpFileURL        = "###RdpFileUrl###"
	PlaceholderPemKeyFileURL     = "###PemKeyFileUrl###"
)

// Provisioner is the onboarding dependency of the orchestrator.
type Provisioner interface {
	Provision(ctx context.Context, classroomID, email string, material keymaterial.Material) (registry.StudentAccountRecord, error)
}

// StackManager is the lab stack lifecycle dependency of the orchestrator.
type StackManager interface {
	Create(ctx context.Context, req stack.Request) (stack.Handle, error)
	Delete(ctx context.Context, stackName, roleArn string) error
}

// Grader is the classroom fan-out dependency of the orchestrator.
type Grader interface {
	GradeClassroom(ctx context.Context, classroomID, functionName string) ([]grading.Result, error)
}

// Orchestrator wires the components behind the four entry points.
type Orchestrator struct {
	cfg               *config.Config
	store             registry.Store
	fetcher           objectstore.Fetcher
	provisioner       Provisioner
	stacks            StackManager
	grader            Grader
	operatorAccountID string
}

// NewOrchestrator creates a new Orchestrator instance. operatorAccountID is
// the coordinator account the cross-account role names embed.
func NewOrchestrator(
	cfg *config.Config,
	store registry.Store,
	fetcher objectstore.Fetcher,
	provisioner Provisioner,
	stacks StackManager,
	grader Grader,
	operatorAccountID string,
) *Orchestrator {
	return &Orchestrator{
		cfg:               cfg,
		store:             store,
		fetcher:           fetcher,
		provisioner:       provisioner,
		stacks:            stacks,
		grader:            grader,
		operatorAccountID: operatorAccountID,
	}
}

// Onboard provisions a first-contact student from the credential material in
// the command: a raw blob when the trigger was an inbound email, or an
// explicit key pair from a direct invocation.
func (o *Orchestrator) Onboard(ctx context.Context, cmd trigger.Command) (registry.StudentAccountRecord, error) {
	if cmd.ClassroomID == "" || cmd.Email == "" {
		return registry.StudentAccountRecord{}, fmt.Errorf("onboarding requires classroomId and email")
	}

	var material keymaterial.Material
	switch {
	case cmd.RawKey != "":
		m, err := keymaterial.ParseBlob(cmd.RawKey)
		if err != nil {
			return registry.StudentAccountRecord{}, err
		}
		material = m
	case cmd.AccessKey != "" && cmd.SecretKey != "":
		material = keymaterial.FromKeyPair(cmd.AccessKey, cmd.SecretKey)
	default:
		return registry.StudentAccountRecord{}, fmt.Errorf("onboarding requires a credential blob or an access key pair")
	}

	return o.provisioner.Provision(ctx, cmd.ClassroomID, cmd.Email, material)
}

// CreateLabStack stands a lab stack up in the student's account: it reads
// the student record, fetches the template and parameter documents, fills
// the placeholder parameters, and hands the request to the stack manager
// with the record's completion topic wired for notification. Creation is
// asynchronous; the completion topic reports the outcome.
func (o *Orchestrator) CreateLabStack(ctx context.Context, cmd trigger.Command) (stack.Handle, error) {
	if cmd.StackName == "" {
		return stack.Handle{}, fmt.Errorf("create lab stack requires stackName")
	}

	record, err := o.store.Get(ctx, cmd.ClassroomID, cmd.Email)
	if err != nil {
		return stack.Handle{}, err
	}
	keyPair, err := record.ParseKeyPair()
	if err != nil {
		return stack.Handle{}, err
	}

	templateBody, err := o.fetcher.Fetch(ctx, cmd.Bucket, cmd.TemplateKey)
	if err != nil {
		return stack.Handle{}, err
	}
	parametersDoc, err := o.fetcher.Fetch(ctx, cmd.Bucket, cmd.ParametersKey)
	if err != nil {
		return stack.Handle{}, err
	}
	parameters, err := template.ParseParameters(parametersDoc)
	if err != nil {
		return stack.Handle{}, err
	}

	parameters = template.Substitute(parameters, map[string]string{
		PlaceholderStudentAccountArn: record.StudentAccountArn,
		PlaceholderKeyPairName:       keyPair.KeyName,
		PlaceholderKeyMaterial:       keyPair.KeyMaterial,
		PlaceholderRdpFileURL:        o.cfg.RdpFileURL,
		PlaceholderPemKeyFileURL:     o.cfg.PemKeyFileURL,
	})

	return o.stacks.Create(ctx, stack.Request{
		StackName:         cmd.StackName,
		TemplateBody:      string(templateBody),
		Parameters:        parameters,
		RoleArn:           o.cfg.CrossAccountRoleArn(record.AWSAccountID, o.operatorAccountID),
		NotificationTopic: record.LabStackCreationCompleteTopic,
	})
}

// DeleteLabStack tears a lab stack down in the student's account.
func (o *Orchestrator) DeleteLabStack(ctx context.Context, cmd trigger.Command) error {
	if cmd.StackName == "" {
		return fmt.Errorf("delete lab stack requires stackName")
	}

	record, err := o.store.Get(ctx, cmd.ClassroomID, cmd.Email)
	if err != nil {
		return err
	}
	return o.stacks.Delete(ctx, cmd.StackName, o.cfg.CrossAccountRoleArn(record.AWSAccountID, o.operatorAccountID))
}

// GradeClassroom fans the grading function out across the classroom and
// returns the per-student results along with a run summary.
func (o *Orchestrator) GradeClassroom(ctx context.Context, cmd trigger.Command) ([]grading.Result, metrics.Report, error) {
	if cmd.FunctionName == "" {
		return nil, metrics.Report{}, fmt.Errorf("grading requires functionName")
	}

	m := metrics.NewMetrics()
	results, err := o.grader.GradeClassroom(ctx, cmd.ClassroomID, cmd.FunctionName)
	if err != nil {
		return nil, metrics.Report{}, err
	}

	for _, result := range results {
		if result.Err != nil {
			m.RecordFailure()
		} else {
			m.RecordGraded()
		}
	}
	return results, m.GenerateReport(), nil
}
