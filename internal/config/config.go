// Package config resolves construction parameters from a PKL params file,
// the stackr.yaml config file, STACKR_* environment variables and flags.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/picklr-io/stackr/internal/eval"
	"github.com/picklr-io/stackr/internal/stack"
)

// Keys understood by every source. Flag names match the keys.
const (
	KeyTopology       = "topology"
	KeyScope          = "scope"
	KeyAccount        = "account"
	KeyRegion         = "region"
	KeyStackName      = "stack-name"
	KeyEcrArn         = "ecr-arn"
	KeyImageTag       = "image-tag"
	KeyIngressPolicy  = "ingress-policy"
	KeyExportEndpoint = "export-endpoint"
	KeyParams         = "params"
	KeyConfig         = "config"
	KeyProfile        = "profile"
	KeyOutDir         = "out-dir"
	KeyFormat         = "format"
	KeyTemplateBucket = "template-bucket"
)

// EnvPrefix prefixes environment variables: STACKR_SCOPE, STACKR_ECR_ARN, ...
const EnvPrefix = "STACKR"

// DefaultConfigName is the config file looked up in the working directory.
const DefaultConfigName = "stackr"

// Settings are the resolved parameters.
type Settings struct {
	Topology       string
	Props          stack.Props
	Profile        string
	OutDir         string
	Format         string
	TemplateBucket string
}

// New returns a viper instance reading STACKR_* variables and stackr.yaml.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault(KeyOutDir, "stackr.out")
	v.SetDefault(KeyFormat, "json")
	return v
}

// BindFlags registers the parameter flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String(KeyScope, "", "Deployment scope embedded in every resource name")
	fs.String(KeyAccount, "", "Target AWS account")
	fs.String(KeyRegion, "", "Target AWS region")
	fs.String(KeyStackName, "", "Override the CloudFormation stack name")
	fs.String(KeyEcrArn, "", "ECR repository ARN for Fargate topologies")
	fs.String(KeyImageTag, "", "Image tag for Fargate topologies (default latest)")
	fs.String(KeyIngressPolicy, "", "Security group ingress policy: open or scoped")
	fs.Bool(KeyExportEndpoint, false, "Export the endpoint output where the topology makes it optional")
	fs.String(KeyParams, "", "PKL params file")
	fs.String(KeyConfig, "", "Config file (default ./stackr.yaml)")
	fs.String(KeyProfile, "", "AWS shared config profile")
	fs.String(KeyOutDir, "stackr.out", "Assembly directory")
	fs.String(KeyFormat, "json", "Template format: json or yaml")
	fs.String(KeyTemplateBucket, "", "S3 bucket for template uploads")
	return v.BindPFlags(fs)
}

// Load resolves Settings. Precedence, lowest first: PKL params file, config
// file, environment, flags.
func Load(ctx context.Context, v *viper.Viper, evaluator *eval.Evaluator) (*Settings, error) {
	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || v.GetString(KeyConfig) != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if file := v.GetString(KeyParams); file != "" {
		params, err := evaluator.LoadParams(ctx, file, nil)
		if err != nil {
			return nil, err
		}
		applyParams(v, params)
	}

	return &Settings{
		Topology: v.GetString(KeyTopology),
		Props: stack.Props{
			Scope:          v.GetString(KeyScope),
			Account:        v.GetString(KeyAccount),
			Region:         v.GetString(KeyRegion),
			StackName:      v.GetString(KeyStackName),
			EcrArn:         v.GetString(KeyEcrArn),
			ImageTag:       v.GetString(KeyImageTag),
			IngressPolicy:  v.GetString(KeyIngressPolicy),
			ExportEndpoint: v.GetBool(KeyExportEndpoint),
		},
		Profile:        v.GetString(KeyProfile),
		OutDir:         v.GetString(KeyOutDir),
		Format:         v.GetString(KeyFormat),
		TemplateBucket: v.GetString(KeyTemplateBucket),
	}, nil
}

// applyParams installs params as defaults, the lowest viper precedence.
func applyParams(v *viper.Viper, p *eval.Params) {
	set := func(key, value string) {
		if value != "" {
			v.SetDefault(key, value)
		}
	}
	set(KeyTopology, p.Topology)
	set(KeyScope, p.Scope)
	set(KeyAccount, p.Account)
	set(KeyRegion, p.Region)
	set(KeyStackName, p.StackName)
	set(KeyEcrArn, p.EcrArn)
	set(KeyImageTag, p.ImageTag)
	set(KeyIngressPolicy, p.IngressPolicy)
	if p.ExportEndpoint != nil {
		v.SetDefault(KeyExportEndpoint, *p.ExportEndpoint)
	}
}
