package exposure

import (
	"strconv"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/apigatewayv2"
	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

// HTTPAPI is a declared API Gateway HTTP API.
type HTTPAPI struct {
	ID    string
	b     *stack.Builder
	route int
}

// AddHTTPAPI declares an HTTP API.
func AddHTTPAPI(b *stack.Builder, id, name, description string) *HTTPAPI {
	b.Add(id, &apigatewayv2.Api{
		Name:         cloudformation.String(name),
		Description:  cloudformation.String(description),
		ProtocolType: cloudformation.String("HTTP"),
	})
	return &HTTPAPI{ID: id, b: b}
}

// Endpoint returns the API's base URL as a template value.
func (h *HTTPAPI) Endpoint() string {
	return cloudformation.GetAtt(h.ID, "ApiEndpoint")
}

// AddVpcLink declares a VPC link into the given subnets guarded by sg.
func AddVpcLink(b *stack.Builder, n *network.Network, id, name string, sg *security.Group, t network.SubnetType) string {
	if sg == nil {
		b.Fail(stack.Errorf(id, "VPC link needs a security group"))
		return id
	}
	subnets := n.SubnetRefs(t)
	if len(subnets) == 0 {
		b.Fail(stack.Errorf(id, "no %s subnets for the VPC link", t))
		return id
	}
	return b.Add(id, &apigatewayv2.VpcLink{
		Name:             name,
		SecurityGroupIds: []string{sg.GroupID()},
		SubnetIds:        subnets,
	})
}

// PathOverride rewrites the request path sent to the integration.
type PathOverride string

// ALBRoute routes routeKey through a VPC link to the ALB's listener. A
// non-empty path replaces the request path at the integration boundary.
func (h *HTTPAPI) ALBRoute(routeKey, vpcLink string, alb *ALB, path PathOverride) string {
	integration := &apigatewayv2.Integration{
		ApiId:                cloudformation.Ref(h.ID),
		IntegrationType:      "HTTP_PROXY",
		IntegrationMethod:    cloudformation.String("ANY"),
		ConnectionType:       cloudformation.String("VPC_LINK"),
		ConnectionId:         cloudformation.RefPtr(vpcLink),
		IntegrationUri:       cloudformation.String(alb.ListenerArn()),
		PayloadFormatVersion: cloudformation.String("1.0"),
	}
	if path != "" {
		integration.RequestParameters = map[string]string{"overwrite:path": string(path)}
	}
	return h.addRoute(routeKey, integration)
}

// LambdaRoute routes routeKey to fn with payload format 2.0 and lets the API invoke it.
func (h *HTTPAPI) LambdaRoute(routeKey string, fn *compute.Function) string {
	route := h.addRoute(routeKey, &apigatewayv2.Integration{
		ApiId:                cloudformation.Ref(h.ID),
		IntegrationType:      "AWS_PROXY",
		IntegrationUri:       cloudformation.String(fn.Arn()),
		PayloadFormatVersion: cloudformation.String("2.0"),
	})
	compute.AllowInvoke(h.b, fn, h.ID+"InvokePermission", h.ID)
	return route
}

func (h *HTTPAPI) addRoute(routeKey string, integration *apigatewayv2.Integration) string {
	h.route++
	suffix := strconv.Itoa(h.route)
	integrationID := h.b.Add(h.ID+"Integration"+suffix, integration)
	return h.b.Add(h.ID+"Route"+suffix, &apigatewayv2.Route{
		ApiId:             cloudformation.Ref(h.ID),
		RouteKey:          routeKey,
		AuthorizationType: cloudformation.String("NONE"),
		Target:            integrationTarget(integrationID),
	})
}

func integrationTarget(integrationID string) *string {
	return cloudformation.JoinPtr("/", []string{"integrations", cloudformation.Ref(integrationID)})
}

// DefaultStage declares the auto-deployed $default stage.
func (h *HTTPAPI) DefaultStage() string {
	return h.b.Add(h.ID+"DefaultStage", &apigatewayv2.Stage{
		ApiId:      cloudformation.Ref(h.ID),
		StageName:  "$default",
		AutoDeploy: cloudformation.Bool(true),
	})
}

// WebSocket route keys handled by a single integration.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// WebSocketSpec describes a WebSocket API whose routes share one Lambda integration.
type WebSocketSpec struct {
	ID          string
	Name        string
	Description string
	StageName   string
	Handler     *compute.Function
	Routes      []string
}

// WebSocketAPI holds the logical IDs of a declared WebSocket API.
type WebSocketAPI struct {
	ID            string
	IntegrationID string
	StageID       string
	StageName     string
	RouteIDs      []string
}

// URL returns the wss:// URL of the stage.
func (w *WebSocketAPI) URL() string {
	return w.stageURL("wss://")
}

// CallbackURL returns the https:// connection management URL of the stage.
func (w *WebSocketAPI) CallbackURL() string {
	return w.stageURL("https://")
}

func (w *WebSocketAPI) stageURL(scheme string) string {
	return cloudformation.Join("", []string{scheme, cloudformation.Ref(w.ID), ".execute-api.",
		cloudformation.Ref("AWS::Region"), ".", cloudformation.Ref("AWS::URLSuffix"), "/", w.StageName})
}

// AddWebSocketAPI declares the API, one Lambda integration, a route and a
// $default route response per route key, the stage and the invoke permission.
// Every route returns the integration's response to the client.
func AddWebSocketAPI(b *stack.Builder, spec WebSocketSpec) *WebSocketAPI {
	w := &WebSocketAPI{
		ID:            spec.ID,
		IntegrationID: spec.ID + "Integration",
		StageID:       spec.ID + "Stage",
		StageName:     spec.StageName,
	}
	if spec.Handler == nil {
		b.Fail(stack.Errorf(spec.ID, "WebSocket API needs a handler function"))
		return w
	}
	if spec.StageName == "" {
		b.Fail(stack.Errorf(spec.ID, "stage name is required"))
		return w
	}
	if len(spec.Routes) == 0 {
		b.Fail(stack.Errorf(spec.ID, "WebSocket API needs at least one route"))
		return w
	}

	b.Add(w.ID, &apigatewayv2.Api{
		Name:                     cloudformation.String(spec.Name),
		Description:              cloudformation.String(spec.Description),
		ProtocolType:             cloudformation.String("WEBSOCKET"),
		RouteSelectionExpression: cloudformation.String("$request.body.action"),
	})
	b.Add(w.IntegrationID, &apigatewayv2.Integration{
		ApiId:           cloudformation.Ref(w.ID),
		IntegrationType: "AWS_PROXY",
		IntegrationUri: cloudformation.SubPtr("arn:${AWS::Partition}:apigateway:${AWS::Region}:lambda:path/2015-03-31/functions/${" +
			spec.Handler.ID + ".Arn}/invocations"),
	})

	for i, key := range spec.Routes {
		route := b.Add(w.ID+"Route"+strconv.Itoa(i+1), &apigatewayv2.Route{
			ApiId:                            cloudformation.Ref(w.ID),
			RouteKey:                         key,
			AuthorizationType:                cloudformation.String("NONE"),
			RouteResponseSelectionExpression: cloudformation.String("$default"),
			Target:                           integrationTarget(w.IntegrationID),
		})
		b.Add(route+"Response", &apigatewayv2.RouteResponse{
			ApiId:            cloudformation.Ref(w.ID),
			RouteId:          cloudformation.Ref(route),
			RouteResponseKey: "$default",
		})
		w.RouteIDs = append(w.RouteIDs, route)
	}

	b.Add(w.StageID, &apigatewayv2.Stage{
		ApiId:      cloudformation.Ref(w.ID),
		StageName:  spec.StageName,
		AutoDeploy: cloudformation.Bool(true),
	})
	compute.AllowInvoke(b, spec.Handler, w.ID+"InvokePermission", w.ID)
	return w
}
