package manifest

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Load reads, decodes, and validates a manifest file.
func Load(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes and validates manifest source. The filename is used in
// diagnostics only.
func Parse(src []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %q: %w", filename, diags)
	}

	var m Manifest
	if diags := gohcl.DecodeBody(file.Body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %q: %w", filename, diags)
	}

	for _, project := range m.Projects {
		for _, container := range project.Containers {
			params, err := evalParameters(container)
			if err != nil {
				return nil, fmt.Errorf("container %q: %w", container.QualifiedName, err)
			}
			container.StartupParameters = params
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func evalParameters(container *ContainerSpec) (map[string]any, error) {
	if container.Parameters == nil {
		return nil, nil
	}

	val, diags := container.Parameters.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid parameters: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("parameters must be a map, got %s", val.Type().FriendlyName())
	}

	params := make(map[string]any, val.LengthInt())
	for key, elem := range val.AsValueMap() {
		converted, err := ctyToGo(elem)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		params[key] = converted
	}
	return params, nil
}

// ctyToGo converts an evaluated cty value into the plain Go representation
// handed to the runtime client: string, bool, int64/float64, []any, or
// map[string]any.
func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if i, acc := bf.Int64(); acc == 0 {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		items := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			items = append(items, converted)
		}
		return items, nil
	case ty.IsObjectType() || ty.IsMapType():
		entries := make(map[string]any, val.LengthInt())
		for key, elem := range val.AsValueMap() {
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			entries[key] = converted
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
