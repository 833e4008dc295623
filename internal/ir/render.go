package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Format is a template serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown template format %q (want json or yaml)", s)
}

// Document converts the template into the generic CloudFormation document shape.
// Map keys are sorted by both encoders, so the output is deterministic.
func Document(t *Template) map[string]any {
	doc := map[string]any{
		"AWSTemplateFormatVersion": FormatVersion,
	}
	if t.Description != "" {
		doc["Description"] = t.Description
	}
	if len(t.Parameters) > 0 {
		params := make(map[string]any, len(t.Parameters))
		for name, p := range t.Parameters {
			params[name] = p
		}
		doc["Parameters"] = params
	}

	resources := make(map[string]any, len(t.Resources))
	for _, res := range t.Resources {
		body := map[string]any{"Type": res.Type}
		if len(res.Properties) > 0 {
			body["Properties"] = res.Properties
		}
		if len(res.DependsOn) > 0 {
			deps := append([]string(nil), res.DependsOn...)
			sort.Strings(deps)
			body["DependsOn"] = deps
		}
		if res.DeletionPolicy != "" {
			body["DeletionPolicy"] = res.DeletionPolicy
		}
		if res.UpdateReplacePolicy != "" {
			body["UpdateReplacePolicy"] = res.UpdateReplacePolicy
		}
		resources[res.LogicalID] = body
	}
	doc["Resources"] = resources

	if len(t.Outputs) > 0 {
		outputs := make(map[string]any, len(t.Outputs))
		for name, out := range t.Outputs {
			body := map[string]any{"Value": out.Value}
			if out.Description != "" {
				body["Description"] = out.Description
			}
			if out.ExportName != "" {
				body["Export"] = map[string]any{"Name": out.ExportName}
			}
			outputs[name] = body
		}
		doc["Outputs"] = outputs
	}
	return doc
}

// Render serializes the template in the requested format.
func Render(t *Template, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return RenderYAML(t)
	default:
		return RenderJSON(t)
	}
}

// RenderJSON serializes the template as indented JSON.
func RenderJSON(t *Template) ([]byte, error) {
	data, err := json.MarshalIndent(Document(t), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return append(data, '\n'), nil
}

// RenderYAML serializes the template as YAML using long-form intrinsic functions.
func RenderYAML(t *Template) ([]byte, error) {
	// Round-trip through JSON so typed values (Parameter, []string) become plain maps and lists.
	raw, err := json.Marshal(Document(t))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalize template: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode yaml template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode yaml template: %w", err)
	}
	return buf.Bytes(), nil
}
