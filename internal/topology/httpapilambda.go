package topology

import (
	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/exposure"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
)

const httpAPILambdaOutput = "apiEndpoint"

// HTTPAPIWithLambda builds an HTTP API whose GET /lambda route invokes an
// inline Lambda function through a proxy integration.
func HTTPAPIWithLambda(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "HTTP API with Lambda integration")

	fn := compute.AddFunction(b, compute.FunctionSpec{
		ID:          "Handler",
		Name:        b.BoundedName("functionName", "httpApiGatewayLambda", 64),
		Description: "Lambda deployed with inline code and triggered by API Gateway",
	})
	api := exposure.AddHTTPAPI(b, "HttpApi", b.Name("lambdaHttpApi"), "HTTP API with Lambda Integration")
	api.LambdaRoute("GET /lambda", fn)
	api.DefaultStage()

	exposure.Endpoint(b, httpAPILambdaOutput, "The endpoint of the HTTP API", api.Endpoint(), "lambdaApiEndpoint")
	return b.Build()
}
