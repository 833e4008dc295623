// Package eval evaluates PKL parameter files.
package eval

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"
)

// Params mirrors the construction parameters a PKL params module may set.
// Unset values stay empty and leave precedence to the other sources.
type Params struct {
	Topology       string `pkl:"topology"`
	Scope          string `pkl:"scope"`
	Account        string `pkl:"account"`
	Region         string `pkl:"region"`
	StackName      string `pkl:"stackName"`
	EcrArn         string `pkl:"ecrArn"`
	ImageTag       string `pkl:"imageTag"`
	IngressPolicy  string `pkl:"ingressPolicy"`
	ExportEndpoint *bool  `pkl:"exportEndpoint"`
}

// Evaluator handles PKL evaluation of parameter files.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadParams evaluates a params module. properties are exposed to the module
// through read("prop:<name>").
func (e *Evaluator) LoadParams(ctx context.Context, path string, properties map[string]string) (*Params, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.projectDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("params file: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := e.newEvaluator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var params Params
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &params); err != nil {
		return nil, fmt.Errorf("failed to evaluate params %s: %w", path, err)
	}
	return &params, nil
}

// newEvaluator uses the project evaluator when the directory holds a
// PklProject, so params modules can import project dependencies.
func (e *Evaluator) newEvaluator(ctx context.Context, opts ...func(*pkl.EvaluatorOptions)) (pkl.Evaluator, error) {
	if _, err := os.Stat(filepath.Join(e.projectDir, "PklProject")); err == nil {
		u, err := url.Parse("file://" + e.projectDir + "/")
		if err != nil {
			return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
		}
		return pkl.NewProjectEvaluator(ctx, u, opts...)
	}
	return pkl.NewEvaluator(ctx, opts...)
}
