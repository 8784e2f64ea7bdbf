package buildconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestInitConfigOverridesDataFile(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: fromfile\nstages:\n  build:\n    from: alpine\n    func_exec: build\n")

	require.NoError(t, InitConfig(map[string]interface{}{"basename": "frominit"}))
	SetDataFilePath(path)

	v, err := GetConfig("basename")
	require.NoError(t, err)
	assert.Equal(t, "frominit", v)
}

func TestRequiredConfigMissingKeyFails(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\nstages:\n  build:\n    from: alpine\n    func_exec: build\n")
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)

	err := RequiredConfig("basename", "nonexistent")
	require.Error(t, err)
}

func TestGetConfigExpandsTemplateReferences(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\ntag: \"[% basename %]-latest\"\nstages:\n  build:\n    from: alpine\n    func_exec: build\n")
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)

	v, err := GetConfig("tag")
	require.NoError(t, err)
	assert.Equal(t, "app-latest", v)
}

func TestGetConfigExpansionCycleIsFatal(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\na: \"[% b %]\"\nb: \"[% a %]\"\nstages:\n  build:\n    from: alpine\n    func_exec: build\n")
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)

	_, err := GetConfig("a")
	require.Error(t, err)
}

func TestSchemaValidationRejectsMissingStages(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\n")
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)

	_, err := GetConfig("basename")
	require.Error(t, err)
}

func TestTimestampStrReusesEnvVar(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\nstages:\n  build:\n    from: alpine\n    func_exec: build\n")
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)
	t.Setenv("APP_TIMESTAMP_STR", "2020-01-01-00-00-00")

	ts, err := TimestampStr()
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01-00-00-00", ts)
}

func TestDebugDefaultsToZero(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\nstages:\n  build:\n    from: alpine\n    func_exec: build\n")
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)

	lvl, err := GetDebug()
	require.NoError(t, err)
	assert.Equal(t, 0, lvl)

	SetDebug(3)
	lvl, err = GetDebug()
	require.NoError(t, err)
	assert.Equal(t, 3, lvl)
}

// TestSchemaValidationToleratesFuncLeaves reproduces a real invocation's
// tree shape: stages.build.func_exec is a Go closure, the same kind of
// value stage.ExecFunc wraps, not a string. Schema validation must not
// choke on it.
func TestSchemaValidationToleratesFuncLeaves(t *testing.T) {
	t.Cleanup(reset)
	path := writeYAML(t, "basename: app\nstages:\n  build:\n    from: alpine\n")

	execFn := func(interface{}) error { return nil }
	require.NoError(t, InitConfig(map[string]interface{}{
		"stages": map[string]interface{}{
			"build": map[string]interface{}{
				"func_exec": execFn,
			},
		},
	}))
	SetDataFilePath(path)

	v, err := GetConfig("basename")
	require.NoError(t, err)
	assert.Equal(t, "app", v)

	fn, err := GetConfig("stages", "build", "func_exec")
	require.NoError(t, err)
	assert.NotNil(t, fn)
}

func TestHCLDataFileLoads(t *testing.T) {
	t.Cleanup(reset)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.hcl")
	contents := `
basename = "app"

stages "build" {
  from      = "alpine"
  func_exec = "build"
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	require.NoError(t, InitConfig(map[string]interface{}{}))
	SetDataFilePath(path)

	v, err := GetConfig("basename")
	require.NoError(t, err)
	assert.Equal(t, "app", v)

	from, err := GetConfig("stages", "build", "from")
	require.NoError(t, err)
	assert.Equal(t, "alpine", from)
}
