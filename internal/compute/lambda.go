package compute

import (
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/lambda"
	"github.com/awslabs/goformation/v7/cloudformation/logs"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
)

// Lambda defaults for the API handlers.
const (
	LambdaRuntime    = "nodejs20.x"
	LambdaHandler    = "index.handler"
	LambdaTimeout    = 3
	LogRetentionDays = 1
)

// SuccessBody is the body every API handler returns.
const SuccessBody = "Lambda Successfully executed. Check logs for additional info."

// SuccessHandlerCode logs the incoming event and returns the fixed success envelope.
const SuccessHandlerCode = `exports.handler = async (event) => {
  console.log(JSON.stringify(event));
  return {
    isBase64Encoded: false,
    statusCode: 200,
    headers: {
      "Content-Type": "application/json"
    },
    body: "` + SuccessBody + `"
  };
};
`

// FunctionSpec describes an inline-code Lambda function.
type FunctionSpec struct {
	ID          string
	Name        string
	Description string
	Code        string
	// RetryAttempts bounds asynchronous invocation retries.
	RetryAttempts int
}

// Function holds the logical IDs of a declared function.
type Function struct {
	ID     string
	RoleID string
}

// Arn returns the function ARN as a template value.
func (f *Function) Arn() string {
	return cloudformation.GetAtt(f.ID, "Arn")
}

// AddFunction declares the execution role, log group, function and async invoke config.
func AddFunction(b *stack.Builder, spec FunctionSpec) *Function {
	f := &Function{ID: spec.ID, RoleID: spec.ID + "Role"}
	if spec.RetryAttempts < 0 || spec.RetryAttempts > 2 {
		b.Fail(stack.Errorf("retryAttempts", "%d must be between 0 and 2", spec.RetryAttempts))
		return f
	}
	code := spec.Code
	if code == "" {
		code = SuccessHandlerCode
	}

	b.Add(f.RoleID, &iam.Role{
		AssumeRolePolicyDocument: assumeRolePolicy("lambda.amazonaws.com"),
		ManagedPolicyArns: []string{
			cloudformation.Sub("arn:${AWS::Partition}:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"),
		},
	})
	logGroup := b.Add(spec.ID+"LogGroup", &logs.LogGroup{
		LogGroupName:    cloudformation.String("/aws/lambda/" + spec.Name),
		RetentionInDays: cloudformation.Int(LogRetentionDays),
	}, stack.RemovalPolicy(ir.PolicyDelete))

	b.Add(f.ID, &lambda.Function{
		FunctionName: cloudformation.String(spec.Name),
		Description:  cloudformation.String(spec.Description),
		Runtime:      cloudformation.String(LambdaRuntime),
		Handler:      cloudformation.String(LambdaHandler),
		Timeout:      cloudformation.Int(LambdaTimeout),
		Role:         cloudformation.GetAtt(f.RoleID, "Arn"),
		Code:         &lambda.Function_Code{ZipFile: cloudformation.String(code)},
	}, stack.DependsOn(logGroup))

	b.Add(spec.ID+"EventInvokeConfig", &lambda.EventInvokeConfig{
		FunctionName:         cloudformation.Ref(f.ID),
		Qualifier:            "$LATEST",
		MaximumRetryAttempts: cloudformation.Int(spec.RetryAttempts),
	})
	return f
}

// AllowInvoke lets API Gateway invoke fn from any route of the given API.
func AllowInvoke(b *stack.Builder, fn *Function, id, apiID string) string {
	return b.Add(id, &lambda.Permission{
		Action:       "lambda:InvokeFunction",
		FunctionName: fn.Arn(),
		Principal:    "apigateway.amazonaws.com",
		SourceArn:    cloudformation.SubPtr("arn:${AWS::Partition}:execute-api:${AWS::Region}:${AWS::AccountId}:${" + apiID + "}/*"),
	})
}
