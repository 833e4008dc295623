package ir

// FormatVersion is the only template format version CloudFormation accepts.
const FormatVersion = "2010-09-09"

// Template is a complete, fully resolved resource graph for one stack.
// Resources are kept in construction order.
type Template struct {
	Description string
	Parameters  map[string]*Parameter
	Resources   []*Resource
	Outputs     map[string]*Output
}

// Resource returns the resource with the given logical ID, or nil.
func (t *Template) Resource(id string) *Resource {
	for _, res := range t.Resources {
		if res.LogicalID == id {
			return res
		}
	}
	return nil
}

// ResourcesOfType returns all resources of the given type in construction order.
func (t *Template) ResourcesOfType(typ string) []*Resource {
	var out []*Resource
	for _, res := range t.Resources {
		if res.Type == typ {
			out = append(out, res)
		}
	}
	return out
}

// Index returns the construction position of id, or -1.
func (t *Template) Index(id string) int {
	for i, res := range t.Resources {
		if res.LogicalID == id {
			return i
		}
	}
	return -1
}

// Endpoints returns the names of outputs marked as the stack's exposure point.
func (t *Template) Endpoints() []string {
	var names []string
	for name, out := range t.Outputs {
		if out.Endpoint {
			names = append(names, name)
		}
	}
	return names
}
