package topology

import (
	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/exposure"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
)

const webSocketOutput = "url"

// WebSocketWithLambda builds a WebSocket API whose $connect, $disconnect and
// $default routes all invoke one Lambda and return its response.
func WebSocketWithLambda(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "WebSocket API with Lambda integration")

	fn := compute.AddFunction(b, compute.FunctionSpec{
		ID:          "Handler",
		Name:        b.BoundedName("functionName", "webSocketLambda", 64),
		Description: "Lambda deployed with inline code and triggered by API Gateway",
	})
	ws := exposure.AddWebSocketAPI(b, exposure.WebSocketSpec{
		ID:          "WebSocketApi",
		Name:        b.Name("mockWebsocketApi"),
		Description: "Websocket API with Lambda Integration",
		StageName:   "test",
		Handler:     fn,
		Routes:      []string{exposure.RouteConnect, exposure.RouteDisconnect, exposure.RouteDefault},
	})

	exposure.Endpoint(b, webSocketOutput, "The WebSocket URL of the test stage", ws.URL(), "webSocketUrl")
	b.Output("callbackUrl", &ir.Output{
		Description: "The connection management URL of the test stage",
		Value:       ws.CallbackURL(),
	})
	return b.Build()
}
