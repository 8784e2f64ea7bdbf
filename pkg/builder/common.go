// Package builder wraps each subcommand of the external rootless builder
// (a buildah-like tool) behind a typed Go function. Every wrapper
// declares a grammar.Schema and forwards through pkg/process — nothing
// in here knows how to format argv by hand, which is what keeps ~20
// wrapped subcommands from turning into 20 near-duplicate argument
// assemblers.
package builder

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	goversion "github.com/hashicorp/go-version"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/grammar"
	"github.com/replicate/buildahutil/pkg/process"
)

// Program is the external builder's executable name, resolved through
// pkg/process.Locate (and therefore overridable via $BUILDAH_PROG).
const Program = "buildah"

// run locates the builder and executes argv, returning captured stdout,
// with trailing newlines removed, when opts.CaptureOutput is set.
func run(opts process.Options, argv []string) (string, error) {
	path, err := process.Locate(Program)
	if err != nil {
		return "", err
	}
	if opts.Name == "" {
		opts.Name = Program + " " + argv[0]
	}
	full := append([]string{path}, argv...)
	out, err := process.Run(opts, full)
	return strings.TrimRight(out, "\n"), err
}

// translate is a thin alias kept local so wrapper files read as
// "builder.translate(schema, params)" rather than importing grammar
// directly in a dozen files.
func translate(schema grammar.Schema, params map[string]interface{}) (grammar.Result, error) {
	return grammar.Translate(schema, params)
}

// transportPrefixes lists the builder's own transport prefixes (the
// "transport:" or "transport://" part of a containers/image reference,
// e.g. "docker://docker.io/alpine:3.20"). name.ParseReference only knows
// docker/OCI registry references, so these are stripped before
// validation and the builder is left to interpret the transport itself.
var transportPrefixes = []string{
	"docker://",
	"docker-daemon:",
	"docker-archive:",
	"oci:",
	"oci-archive:",
	"containers-storage:",
	"dir:",
	"tarball:",
}

// stripTransportPrefix removes a recognized transport prefix from ref, if
// present, returning the registry-reference portion validateReference
// actually knows how to parse.
func stripTransportPrefix(ref string) string {
	for _, p := range transportPrefixes {
		if strings.HasPrefix(ref, p) {
			return strings.TrimPrefix(ref, p)
		}
	}
	return ref
}

// validateReference parses ref the way the builder itself eventually
// will, so a malformed image reference surfaces as a configuration error
// before any process is spawned, rather than as an opaque builder exit
// code. Validation is weak (WeakValidation) because the builder — not
// this driver — owns full reference semantics; we only want to catch
// syntactically impossible references early. A recognized transport
// prefix is stripped first: the builder, not name.ParseReference, owns
// the semantics of what follows it, and an empty remainder (a bare
// transport with no path, e.g. for stdin-based transports) is left for
// the builder to reject.
func validateReference(field, ref string) error {
	if ref == "" {
		return bherrors.Config("%s: image reference must not be empty", field)
	}
	stripped := stripTransportPrefix(ref)
	if stripped == "" {
		return nil
	}
	if _, err := name.ParseReference(stripped, name.WeakValidation); err != nil {
		return bherrors.Config("%s: invalid image reference %q: %s", field, ref, err)
	}
	return nil
}

// orderTags returns extraTags sorted ascending when every entry parses as
// a semantic version, and unchanged otherwise. This only affects the
// order additional `commit` tags are applied in, purely for
// reproducible logs — it has no effect on which tags end up on the image.
func orderTags(extraTags []string) []string {
	versions := make([]*goversion.Version, 0, len(extraTags))
	for _, t := range extraTags {
		v, err := goversion.NewVersion(t)
		if err != nil {
			return extraTags
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].LessThan(versions[j]) })
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Original()
	}
	return out
}

// parseInfo decodes the builder's `info` output. The builder emits JSON;
// encoding/json is the idiomatic decoder for already-JSON bytes and
// nothing in the example pack offers a better fit for "parse JSON I
// didn't write the schema for" than a generic map decode.
func parseInfo(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, bherrors.Subprocess(Program+" info", 0, false, "failed to parse info output: %s", err)
	}
	return v, nil
}
