package deploy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// ErrStackNotFound is returned when a stack that must exist does not.
var ErrStackNotFound = errors.New("stack does not exist")

// StackError reports a stack that settled in a failed state.
type StackError struct {
	StackName string
	Status    string
	Reason    string
}

func (e *StackError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stack %s finished in %s", e.StackName, e.Status)
	}
	return fmt.Sprintf("stack %s finished in %s: %s", e.StackName, e.Status, e.Reason)
}

// CloudFormation reports both conditions as a generic ValidationError and
// only the message tells them apart.
func isValidationError(err error, fragment string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), fragment)
}

func isNotExist(err error) bool {
	return isValidationError(err, "does not exist")
}

func isNoUpdates(err error) bool {
	return isValidationError(err, "No updates are to be performed")
}
