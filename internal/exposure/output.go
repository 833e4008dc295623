package exposure

import (
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
)

// Endpoint declares the stack's single exposure point. value is a literal or
// an intrinsic token. A non-empty export publishes the value as
// <export>-<scope> for other stacks to import.
func Endpoint(b *stack.Builder, name, description, value, export string) {
	out := &ir.Output{Description: description, Value: value, Endpoint: true}
	if export != "" {
		out.ExportName = b.Name(export)
	}
	b.Output(name, out)
}
