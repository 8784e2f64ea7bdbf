package buildconfig

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// loadHCL decodes an HCL data file into the same map[string]interface{}
// shape a YAML decode produces, so merge/expand/schema downstream never
// need to know which format a tree came from. Top-level attributes become
// map entries directly; blocks nest under their block type, keyed by
// their first label when present (this is how "stages" blocks, e.g.
// `stages "build" { ... }`, become `tree["stages"]["build"]`).
func loadHCL(data []byte, filename string) (map[string]interface{}, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, bherrors.Config("failed to parse %s: %s", filename, diags.Error())
	}
	body, ok := f.Body.(*hclsyntax.Body)
	if !ok {
		return nil, bherrors.Config("failed to parse %s: unexpected HCL body type", filename)
	}
	return decodeHCLBody(body)
}

func decodeHCLBody(body *hclsyntax.Body) (map[string]interface{}, error) {
	out := map[string]interface{}{}

	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, bherrors.Config("failed to evaluate %q: %s", name, diags.Error())
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, bherrors.Config("failed to decode %q: %s", name, err)
		}
		out[name] = native
	}

	for _, block := range body.Blocks {
		child, err := decodeHCLBody(block.Body)
		if err != nil {
			return nil, err
		}

		typeBucket, ok := out[block.Type].(map[string]interface{})
		if !ok {
			typeBucket = map[string]interface{}{}
			out[block.Type] = typeBucket
		}

		if len(block.Labels) > 0 {
			typeBucket[block.Labels[0]] = child
		} else {
			// An unlabeled repeated block collapses into the type bucket
			// directly; last one wins, matching a plain attribute overlay.
			for k, v := range child {
				typeBucket[k] = v
			}
		}
	}

	return out, nil
}

// ctyToNative converts a cty.Value into the Go map/slice/scalar shape the
// rest of the package works with.
func ctyToNative(v cty.Value) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()

	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := []interface{}{}
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := map[string]interface{}{}
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out[key.AsString()] = native
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported HCL value type %s", ty.FriendlyName())
	}
}
