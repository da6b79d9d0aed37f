// Package config holds the explicit configuration for the lab lifecycle
// orchestrator. Every component receives what it needs at construction; there
// are no process-wide singletons or ambient clients.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration for a single orchestrator invocation.
type Config struct {
	StudentAccountTable string        // DynamoDB table holding student account records
	Region              string        // AWS region for every service client
	RdpFileURL          string        // Download URL substituted into lab templates
	PemKeyFileURL       string        // Download URL substituted into lab templates
	RolePrefix          string        // Cross-account role name prefix, suffixed with the operator account id
	SandboxStackPrefix  string        // Name prefix for the per-student sandbox stack
	StackCreateTimeout  time.Duration // Upper bound on the synchronous sandbox-stack wait
	PreflightChecks     bool          // If true, simulate sts:AssumeRole before each delegation
}

// DefaultRolePrefix is the role name prefix students grant the operator
// account in their trust policy.
const DefaultRolePrefix = "crossaccountteacher"

// DefaultSandboxStackPrefix names the per-student sandbox stack; the operator
// account id is appended to keep the name deterministic per engagement.
const DefaultSandboxStackPrefix = "ManagedAWSAcademyLearnerLab-"

// Validate ensures all required fields are present and have valid values.
func (c *Config) Validate() error {
	if c.StudentAccountTable == "" {
		return fmt.Errorf("student account table is required")
	}

	if c.Region == "" {
		return fmt.Errorf("region is required")
	}

	if c.RolePrefix == "" {
		return fmt.Errorf("role prefix is required")
	}
	if strings.ContainsAny(c.RolePrefix, " /") {
		return fmt.Errorf("role prefix must be a bare role name fragment")
	}

	if c.SandboxStackPrefix == "" {
		return fmt.Errorf("sandbox stack prefix is required")
	}

	if c.StackCreateTimeout < time.Minute {
		return fmt.Errorf("stack create timeout must be at least 1 minute")
	}

	return nil
}

// CrossAccountRoleArn builds the ARN of the role the orchestrator assumes in
// a student account. The role name embeds the operator account id, matching
// the trust policy provisioned into every student account.
func (c *Config) CrossAccountRoleArn(studentAccountID, operatorAccountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s%s", studentAccountID, c.RolePrefix, operatorAccountID)
}

// SandboxStackName builds the deterministic name of the per-student sandbox
// stack for the given operator account.
func (c *Config) SandboxStackName(operatorAccountID string) string {
	return c.SandboxStackPrefix + operatorAccountID
}
