package mock

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/classlab/lab-orchestrator/aws"
)

// Waiter is a mock stack waiter for testing. It polls the stack once instead
// of sleeping between attempts.
type Waiter struct{}

// WaitForCreateComplete checks the stack status a single time.
func (Waiter) WaitForCreateComplete(ctx context.Context, client aws.CloudFormationClient, stackName string, maxWait time.Duration) error {
	out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: sdkaws.String(stackName),
	})
	if err != nil {
		return err
	}
	if len(out.Stacks) == 0 {
		return fmt.Errorf("stack %s not found", stackName)
	}
	if status := out.Stacks[0].StackStatus; status != cftypes.StackStatusCreateComplete {
		return fmt.Errorf("stack %s in state %s", stackName, status)
	}
	return nil
}
