package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/buildconfig"
)

var _ pflag.Value = (*addedOptValue)(nil)

// addedOptValue is a pflag.Value that writes its parsed value at
// config.opts.<targetKey> on every Set, implementing the added_opts
// grammar SPEC_FULL.md §3 gives concrete shape to.
type addedOptValue struct {
	targetKey string
	current   string
}

func (v *addedOptValue) String() string { return v.current }
func (v *addedOptValue) Type() string   { return "string" }
func (v *addedOptValue) Set(s string) error {
	v.current = s
	return buildconfig.SetOpt(v.targetKey, s)
}

// newRootCommand builds the single flat command spec.md §6 describes:
// --debug, --config, --internal, plus whatever added_opts the embedding
// program's init-config (merged with the data file) declares.
//
// --debug and --config must be known before the configuration tree is
// built at all (the tree's own presence depends on --config, and
// added_opts registration needs the tree already built), so they are
// pre-scanned from os.Args directly; cobra parses the authoritative copy
// afterward once every flag, including the dynamic ones, is registered.
func newRootCommand(init map[string]interface{}) (*cobra.Command, error) {
	debug, configPath := extractEarlyFlags(os.Args[1:])

	if err := buildconfig.InitConfig(init); err != nil {
		return nil, err
	}
	buildconfig.SetDataFilePath(configPath)
	buildconfig.SetDefaultBasename("buildahutil")
	buildconfig.SetDebug(debug)

	var internalStage string
	var debugFlag int
	var configFlag string

	cmd := &cobra.Command{
		Use:           "buildahutil",
		Short:         "Programmable multi-stage OCI image driver",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			buildconfig.SetDebug(debugFlag)
			return dispatch(cmd.Context(), internalStage)
		},
	}

	cmd.Flags().IntVar(&debugFlag, "debug", debug, "debug verbosity (0 silent, >0 progressively verbose)")
	cmd.Flags().StringVar(&configFlag, "config", configPath, "structured data file path")
	cmd.Flags().StringVar(&internalStage, "internal", "", "inner-mode entry; not intended for users")

	if err := registerAddedOpts(cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

func extractEarlyFlags(args []string) (debug int, configPath string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case strings.HasPrefix(a, "--debug="):
			debug, _ = strconv.Atoi(strings.TrimPrefix(a, "--debug="))
		case a == "--debug" && i+1 < len(args):
			debug, _ = strconv.Atoi(args[i+1])
			i++
		case strings.HasPrefix(a, "--config="):
			configPath = strings.TrimPrefix(a, "--config=")
		case a == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		}
	}
	return debug, configPath
}

// registerAddedOpts reads the already-merged added_opts sequence and
// registers one --<flag>=<value> pflag per entry, applying its default
// (if any) immediately so callbacks can read config.opts.<target_key>
// even when the corresponding flag is never passed.
func registerAddedOpts(cmd *cobra.Command) error {
	raw, err := buildconfig.GetConfig("added_opts")
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return bherrors.Config("%q must be a sequence", "added_opts")
	}

	for _, e := range entries {
		rec, ok := e.(map[string]interface{})
		if !ok {
			return bherrors.Config("%q entries must be mappings", "added_opts")
		}
		flag, _ := rec["flag"].(string)
		targetKey, _ := rec["target_key"].(string)
		if flag == "" || targetKey == "" {
			return bherrors.Config("%q entry is missing %q or %q", "added_opts", "flag", "target_key")
		}

		def := ""
		if d, ok := rec["default"]; ok && d != nil {
			def = fmt.Sprintf("%v", d)
			if err := buildconfig.SetOpt(targetKey, def); err != nil {
				return err
			}
		}

		val := &addedOptValue{targetKey: targetKey, current: def}
		cmd.Flags().Var(val, flag, fmt.Sprintf("sets config.opts.%s", targetKey))
	}
	return nil
}
