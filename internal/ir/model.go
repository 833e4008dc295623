package ir

import (
	"encoding/json"
	"fmt"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/intrinsics"
)

// FromModel converts a typed resource into its template form. Intrinsic
// tokens produced by the cloudformation package (Ref, GetAtt, Join, Sub,
// Base64) are decoded into their JSON object shape.
func FromModel(id string, m cloudformation.Resource) (*Resource, error) {
	res := &Resource{LogicalID: id}
	if err := decode(m, res); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if res.Type == "" {
		res.Type = m.AWSCloudFormationType()
	}
	if res.Properties == nil {
		res.Properties = map[string]any{}
	}
	return res, nil
}

// Resolve decodes intrinsic tokens anywhere inside v. Plain values pass through.
func Resolve(v any) (any, error) {
	var out any
	if err := decode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	// nil options keep Ref and Fn::GetAtt unresolved; tokens only decode.
	data, err = intrinsics.ProcessJSON(data, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
