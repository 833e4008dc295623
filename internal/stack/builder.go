package stack

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/logging"
)

var logicalIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Option customizes a resource as it is added.
type Option func(*ir.Resource)

// DependsOn declares explicit ordering edges the provisioning engine cannot infer.
func DependsOn(ids ...string) Option {
	return func(r *ir.Resource) {
		r.DependsOn = append(r.DependsOn, ids...)
	}
}

// RemovalPolicy sets both the deletion and update-replace policies.
func RemovalPolicy(policy string) Option {
	return func(r *ir.Resource) {
		r.DeletionPolicy = policy
		r.UpdateReplacePolicy = policy
	}
}

// Builder accumulates a template in construction order. Every reference and
// dependency must name something added earlier. The first error is sticky:
// later calls are ignored and Build returns it, so a partial template never escapes.
type Builder struct {
	props Props
	tmpl  *ir.Template
	ids   map[string]bool
	err   error
}

// NewBuilder validates props and starts an empty template.
func NewBuilder(props Props, description string) *Builder {
	b := &Builder{
		props: props,
		tmpl: &ir.Template{
			Description: description,
			Parameters:  map[string]*ir.Parameter{},
			Outputs:     map[string]*ir.Output{},
		},
		ids: map[string]bool{},
	}
	if err := props.Validate(); err != nil {
		b.err = err
	}
	return b
}

// Props returns the construction parameters.
func (b *Builder) Props() Props {
	return b.props
}

// Err returns the first construction error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Fail records err unless an earlier error is already recorded.
func (b *Builder) Fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Name returns prefix-<scope>.
func (b *Builder) Name(prefix string) string {
	return b.props.Name(prefix)
}

// BoundedName returns prefix-<scope> and fails construction when it exceeds max characters.
func (b *Builder) BoundedName(field, prefix string, max int) string {
	name := b.Name(prefix)
	if len(name) > max {
		b.Fail(Errorf(field, "name %q exceeds %d characters; use a shorter scope", name, max))
	}
	return name
}

// Exists reports whether id names a resource or parameter declared so far.
func (b *Builder) Exists(id string) bool {
	if b.ids[id] {
		return true
	}
	_, ok := b.tmpl.Parameters[id]
	return ok
}

// Parameter declares a template parameter.
func (b *Builder) Parameter(name string, p *ir.Parameter) string {
	if b.err != nil {
		return name
	}
	if !logicalIDPattern.MatchString(name) || b.Exists(name) {
		b.Fail(Errorf("parameter", "%q is invalid or already declared", name))
		return name
	}
	b.tmpl.Parameters[name] = p
	return name
}

// Add appends a typed resource and returns its logical ID. Intrinsics inside m
// must be built with the cloudformation package helpers.
func (b *Builder) Add(id string, m cloudformation.Resource, opts ...Option) string {
	if b.err != nil {
		return id
	}
	if !logicalIDPattern.MatchString(id) {
		b.Fail(Errorf("resource", "logical ID %q must be alphanumeric", id))
		return id
	}
	if b.Exists(id) {
		b.Fail(Errorf("resource", "logical ID %q declared twice", id))
		return id
	}

	res, err := ir.FromModel(id, m)
	if err != nil {
		b.Fail(Errorf(id, "cannot encode %s: %v", m.AWSCloudFormationType(), err))
		return id
	}
	for _, opt := range opts {
		opt(res)
	}

	for _, ref := range ir.References(res.Properties) {
		if !b.Exists(ref) {
			b.Fail(Errorf(id, "references %q before it is declared", ref))
			return id
		}
	}
	for _, dep := range res.DependsOn {
		if !b.ids[dep] {
			b.Fail(Errorf(id, "depends on undeclared resource %q", dep))
			return id
		}
	}

	logging.Debug("adding resource", "id", id, "type", res.Type, "scope", b.props.Scope)
	b.ids[id] = true
	b.tmpl.Resources = append(b.tmpl.Resources, res)
	return id
}

// AddDependency adds an explicit ordering edge from id to deps after id was declared.
func (b *Builder) AddDependency(id string, deps ...string) {
	if b.err != nil {
		return
	}
	res := b.tmpl.Resource(id)
	if res == nil {
		b.Fail(Errorf(id, "cannot add dependency to undeclared resource"))
		return
	}
	for _, dep := range deps {
		if !b.ids[dep] {
			b.Fail(Errorf(id, "depends on undeclared resource %q", dep))
			return
		}
		if !res.HasDependency(dep) {
			res.DependsOn = append(res.DependsOn, dep)
		}
	}
}

// Output declares a stack output. A string Value may carry an intrinsic token.
// Export names must embed the scope.
func (b *Builder) Output(name string, out *ir.Output) {
	if b.err != nil {
		return
	}
	if s, ok := out.Value.(string); ok {
		v, err := ir.Resolve(s)
		if err != nil {
			b.Fail(Errorf("output", "%s: %v", name, err))
			return
		}
		out.Value = v
	}
	if _, ok := b.tmpl.Outputs[name]; ok {
		b.Fail(Errorf("output", "%q declared twice", name))
		return
	}
	for _, ref := range ir.References(out.Value) {
		if !b.Exists(ref) {
			b.Fail(Errorf("output", "%s references %q which is not declared", name, ref))
			return
		}
	}
	if out.ExportName != "" && !strings.HasSuffix(out.ExportName, "-"+b.props.Scope) {
		b.Fail(Errorf("output", "export name %q is not keyed by scope %q", out.ExportName, b.props.Scope))
		return
	}
	b.tmpl.Outputs[name] = out
}

// Build returns the finished template. It fails unless exactly one output is
// marked as the stack's endpoint.
func (b *Builder) Build() (*ir.Template, error) {
	if b.err != nil {
		return nil, b.err
	}
	if n := len(b.tmpl.Endpoints()); n != 1 {
		return nil, &ConfigError{Field: "output", Reason: fmt.Sprintf("stack must expose exactly one endpoint, found %d", n)}
	}
	return b.tmpl, nil
}
