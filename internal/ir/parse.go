package ir

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

type rawTemplate struct {
	Description string                 `json:"Description" yaml:"Description"`
	Parameters  map[string]*Parameter  `json:"Parameters" yaml:"Parameters"`
	Resources   map[string]rawResource `json:"Resources" yaml:"Resources"`
	Outputs     map[string]rawOutput   `json:"Outputs" yaml:"Outputs"`
}

type rawResource struct {
	Type                string         `json:"Type" yaml:"Type"`
	Properties          map[string]any `json:"Properties" yaml:"Properties"`
	DependsOn           any            `json:"DependsOn" yaml:"DependsOn"`
	DeletionPolicy      string         `json:"DeletionPolicy" yaml:"DeletionPolicy"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy" yaml:"UpdateReplacePolicy"`
}

type rawOutput struct {
	Description string `json:"Description" yaml:"Description"`
	Value       any    `json:"Value" yaml:"Value"`
	Export      *struct {
		Name string `json:"Name" yaml:"Name"`
	} `json:"Export" yaml:"Export"`
}

// ParseTemplate reads a JSON or YAML CloudFormation template, such as the
// body returned for a deployed stack. Resources are ordered by logical ID.
func ParseTemplate(data []byte) (*Template, error) {
	var raw rawTemplate
	if err := json.Unmarshal(data, &raw); err != nil {
		if yerr := yaml.Unmarshal(data, &raw); yerr != nil {
			return nil, fmt.Errorf("failed to parse template: %w", yerr)
		}
		// yaml.v3 decodes nested mappings as map[string]any already; normalize
		// through JSON so numbers match what a JSON body would produce.
		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize template: %w", err)
		}
		raw = rawTemplate{}
		if err := json.Unmarshal(normalized, &raw); err != nil {
			return nil, fmt.Errorf("failed to normalize template: %w", err)
		}
	}

	t := &Template{
		Description: raw.Description,
		Parameters:  raw.Parameters,
		Outputs:     make(map[string]*Output, len(raw.Outputs)),
	}

	ids := make([]string, 0, len(raw.Resources))
	for id := range raw.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := raw.Resources[id]
		res := &Resource{
			LogicalID:           id,
			Type:                r.Type,
			Properties:          r.Properties,
			DeletionPolicy:      r.DeletionPolicy,
			UpdateReplacePolicy: r.UpdateReplacePolicy,
		}
		switch deps := r.DependsOn.(type) {
		case string:
			res.DependsOn = []string{deps}
		case []any:
			for _, d := range deps {
				if s, ok := d.(string); ok {
					res.DependsOn = append(res.DependsOn, s)
				}
			}
		}
		t.Resources = append(t.Resources, res)
	}

	for name, o := range raw.Outputs {
		out := &Output{Description: o.Description, Value: o.Value}
		if o.Export != nil {
			out.ExportName = o.Export.Name
		}
		t.Outputs[name] = out
	}
	return t, nil
}
