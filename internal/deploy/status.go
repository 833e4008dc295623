package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// ErrNotDeployable is returned when the stack's current status does not
// accept a create or update.
var ErrNotDeployable = errors.New("stack cannot be deployed")

// Terminal reports whether a stack status is final.
func Terminal(s types.StackStatus) bool {
	return !strings.HasSuffix(string(s), "_IN_PROGRESS")
}

// Succeeded reports whether a final status means the requested operation took effect.
func Succeeded(s types.StackStatus) bool {
	switch s {
	case types.StackStatusCreateComplete, types.StackStatusUpdateComplete, types.StackStatusImportComplete:
		return true
	}
	return false
}

// Deployable checks that a stack in status s can take a deploy. An empty
// status is a stack that does not exist yet. Settled rollbacks such as
// UPDATE_ROLLBACK_COMPLETE are deployable; callers decide whether to warn.
func Deployable(stackName string, s types.StackStatus) error {
	switch {
	case s == "":
		return nil
	case s == types.StackStatusRollbackComplete:
		return fmt.Errorf("stack %s is in %s after a failed create and must be destroyed first: %w", stackName, s, ErrNotDeployable)
	case !Terminal(s):
		return fmt.Errorf("stack %s is busy (%s): %w", stackName, s, ErrNotDeployable)
	case strings.HasSuffix(string(s), "_FAILED"):
		return fmt.Errorf("stack %s is in %s and needs attention in the console: %w", stackName, s, ErrNotDeployable)
	}
	return nil
}

// Status returns the stack's current status, or "" when it does not exist.
func (d *Deployer) Status(ctx context.Context, stackName string) (types.StackStatus, error) {
	stack, err := d.describe(ctx, stackName)
	if err != nil || stack == nil {
		return "", err
	}
	return stack.StackStatus, nil
}
