// Package grammar translates a named-parameter map into a positional
// argument list for a builder subcommand, per a declared schema. It is
// the single place that knows how buildah-style flags are spelled, which
// keeps the wrappers in pkg/builder down to "declare a schema, call
// Translate."
package grammar

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/samber/lo"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// Schema declares how a subcommand's parameters become argv. Every field
// lists parameter names drawn from the params map passed to Translate.
// Processing happens in the fixed order documented on each field, which
// is what makes Translate's output deterministic.
type Schema struct {
	// Extract names params removed into Extracted before any argv is
	// built; the caller (a wrapper in pkg/builder) handles these itself.
	Extract []string
	// ArgInit is literal argv appended before any flag, unconditionally.
	ArgInit []string
	// Exclusive names params that, if present, must be the only param
	// left in the map; otherwise Translate fails before emitting argv.
	Exclusive []string
	// ArgFlag names scalar boolean params emitted as bare "--name".
	ArgFlag []string
	// ArgFlagStr names params whose value must literally be "true" or
	// "false", emitted as "--name value".
	ArgFlagStr []string
	// ArgStr names scalar string params emitted as "--name value".
	ArgStr []string
	// ArgArray names sequence params emitted as repeated "--name value".
	ArgArray []string
	// ArgList names sequence params emitted as one
	// `--name '[ "v1", "v2" ]'` (the builder's list-literal flag form).
	ArgList []string
}

// Result is the outcome of a successful Translate call.
type Result struct {
	// Extracted holds the values of the schema's Extract params, keyed
	// by name, removed from the input map for the caller to consume.
	Extracted map[string]interface{}
	// Argv is the positional argument list built from the remaining
	// params, in the schema's fixed processing order.
	Argv []string
}

// Translate consumes params according to schema and returns the
// extracted special-cased values plus the built argv. params is mutated:
// on success it is left empty, since every key found a home in one of
// the schema's buckets or in Extract.
func Translate(schema Schema, params map[string]interface{}) (Result, error) {
	res := Result{Extracted: map[string]interface{}{}}

	for _, name := range schema.Extract {
		if v, ok := params[name]; ok {
			res.Extracted[name] = v
			delete(params, name)
		}
	}

	res.Argv = append(res.Argv, schema.ArgInit...)

	for _, name := range schema.Exclusive {
		if _, ok := params[name]; ok {
			if len(params) != 1 {
				others := lo.Filter(keysOf(params), func(k string, _ int) bool { return k != name })
				sort.Strings(others)
				return Result{}, bherrors.CallContract(
					"parameter %q is exclusive: cannot be combined with %v", name, others)
			}
		}
	}

	for _, name := range schema.ArgFlag {
		v, ok := params[name]
		if !ok {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return Result{}, bherrors.CallContract("parameter %q must be a bool, got %T", name, v)
		}
		delete(params, name)
		if b {
			res.Argv = append(res.Argv, "--"+name)
		}
	}

	for _, name := range schema.ArgFlagStr {
		v, ok := params[name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || (s != "true" && s != "false") {
			return Result{}, bherrors.CallContract(`parameter %q must be "true" or "false", got %#v`, name, v)
		}
		delete(params, name)
		res.Argv = append(res.Argv, "--"+name, s)
	}

	for _, name := range schema.ArgStr {
		v, ok := params[name]
		if !ok {
			continue
		}
		s, ok := asScalarString(v)
		if !ok {
			return Result{}, bherrors.CallContract("parameter %q must be a scalar, got %T", name, v)
		}
		delete(params, name)
		res.Argv = append(res.Argv, "--"+name, s)
	}

	for _, name := range schema.ArgArray {
		v, ok := params[name]
		if !ok {
			continue
		}
		seq, err := asStringSequence(name, v)
		if err != nil {
			return Result{}, err
		}
		delete(params, name)
		for _, elem := range seq {
			res.Argv = append(res.Argv, "--"+name, elem)
		}
	}

	for _, name := range schema.ArgList {
		v, ok := params[name]
		if !ok {
			continue
		}
		seq, err := asStringSequence(name, v)
		if err != nil {
			return Result{}, err
		}
		delete(params, name)
		res.Argv = append(res.Argv, "--"+name, listLiteral(seq))
	}

	if len(params) > 0 {
		return Result{}, bherrors.CallContract("unrecognized parameter(s): %v", sortedKeys(params))
	}

	return res, nil
}

func keysOf(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	ks := keysOf(m)
	sort.Strings(ks)
	return ks
}

// asScalarString accepts a string, int, or bool and renders it as a
// string; anything else is not a scalar.
func asScalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int:
		return fmt.Sprintf("%d", t), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		return "", false
	}
}

// asStringSequence accepts either a single scalar (treated as a
// length-one sequence) or a slice of scalars.
func asStringSequence(name string, v interface{}) ([]string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		s, ok := asScalarString(v)
		if !ok {
			return nil, bherrors.CallContract("parameter %q must be a scalar or sequence, got %T", name, v)
		}
		return []string{s}, nil
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		s, ok := asScalarString(rv.Index(i).Interface())
		if !ok {
			return nil, bherrors.CallContract("parameter %q element %d must be a scalar, got %T", name, i, rv.Index(i).Interface())
		}
		out = append(out, s)
	}
	return out, nil
}

// listLiteral renders the builder's list-literal flag form:
// '[ "v1", "v2" ]'.
func listLiteral(elems []string) string {
	quoted := lo.Map(elems, func(e string, _ int) string { return fmt.Sprintf("%q", e) })
	if len(quoted) == 0 {
		return "[ ]"
	}
	out := "[ "
	for i, q := range quoted {
		if i > 0 {
			out += ", "
		}
		out += q
	}
	out += " ]"
	return out
}
