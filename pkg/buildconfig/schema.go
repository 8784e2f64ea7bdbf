package buildconfig

import (
	"reflect"

	"github.com/xeipuuv/gojsonschema"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// treeSchema describes the top-level shape every merged configuration tree
// must satisfy. It intentionally says little about "stages.*" contents
// beyond "object" — per-stage required keys (from, func_exec) are enforced
// by pkg/stage when a handle is constructed, where a precise error can
// name the stage.
const treeSchema = `{
  "type": "object",
  "required": ["basename", "stages"],
  "properties": {
    "basename": {"type": "string", "minLength": 1},
    "stages": {"type": "object"},
    "opts": {"type": "object"},
    "added_opts": {"type": "array"},
    "cache": {
      "type": "object",
      "properties": {
        "driver": {"type": "string", "enum": ["local", "s3"]},
        "bucket": {"type": "string"},
        "prefix": {"type": "string"},
        "region": {"type": "string"}
      }
    }
  }
}`

// validateSchema checks tree against treeSchema. The tree may hold
// map[interface{}]interface{} nodes left over from a gopkg.in/yaml.v2
// decode, which encoding/json cannot marshal directly; sigs.k8s.io/yaml's
// Marshal round-trips through YAML first and normalizes those into
// JSON-safe map[string]interface{}, so this is the one place in the
// package that reaches for it instead of a second gopkg.in/yaml.v2 pass.
//
// The merged tree also holds init-config callables (stages.*.func_exec,
// stages.*.func_deps are stage.ExecFunc closures), which no marshaler can
// represent. sanitizeForSchema replaces those with an opaque placeholder
// before the tree is handed to sigsyaml, since their presence or absence
// is enforced by pkg/stage, not by this schema.
func validateSchema(tree map[string]interface{}) error {
	jsonBytes, err := sigsyaml.Marshal(sanitizeForSchema(tree))
	if err != nil {
		return bherrors.Config("failed to normalize configuration tree for schema validation: %s", err)
	}
	jsonBytes, err = sigsyaml.YAMLToJSON(jsonBytes)
	if err != nil {
		return bherrors.Config("failed to normalize configuration tree for schema validation: %s", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(treeSchema)
	dataLoader := gojsonschema.NewStringLoader(string(jsonBytes))

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return bherrors.Config("schema validation failed: %s", err)
	}
	if !result.Valid() {
		msg := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return bherrors.Config("configuration does not match expected schema: %s", msg)
	}
	return nil
}

// sanitizeForSchema deep-copies v, replacing any func-kind leaf (the
// shape of an init-config callback) with a placeholder string so the
// result is always marshalable. Everything else is returned unchanged.
func sanitizeForSchema(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = sanitizeForSchema(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeForSchema(val)
		}
		return out
	default:
		if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
			return "<callable>"
		}
		return v
	}
}
