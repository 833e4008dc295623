package ir

// Deletion and update-replace policies understood by CloudFormation.
const (
	PolicyDelete = "Delete"
	PolicyRetain = "Retain"
)

// Resource represents a single declared resource in a template.
type Resource struct {
	LogicalID           string         `json:"-"`
	Type                string         `json:"Type"` // e.g., "AWS::EC2::VPC"
	Properties          map[string]any `json:"Properties,omitempty"`
	DependsOn           []string       `json:"DependsOn,omitempty"`
	DeletionPolicy      string         `json:"DeletionPolicy,omitempty"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty"`
}

// Parameter is a template parameter resolved by the provisioning engine at deploy time.
type Parameter struct {
	Type        string `json:"Type" yaml:"Type"`
	Default     string `json:"Default,omitempty" yaml:"Default,omitempty"`
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
}

// Output is a stack output. Endpoint marks the externally resolvable exposure point.
type Output struct {
	Description string `json:"Description,omitempty"`
	Value       any    `json:"Value"`
	ExportName  string `json:"-"`
	Endpoint    bool   `json:"-"`
}

// Property returns a top-level property value.
func (r *Resource) Property(key string) any {
	if r.Properties == nil {
		return nil
	}
	return r.Properties[key]
}

// HasDependency reports whether r explicitly depends on id.
func (r *Resource) HasDependency(id string) bool {
	for _, d := range r.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}
