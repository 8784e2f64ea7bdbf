package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/buildahutil/pkg/buildconfig"
	"github.com/replicate/buildahutil/pkg/stage"
)

func setupConfig(t *testing.T, yamlBody string, init map[string]interface{}) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	require.NoError(t, buildconfig.InitConfig(init))
	buildconfig.SetDataFilePath(path)
	t.Cleanup(buildconfig.TestReset)
}

func TestExtractEarlyFlagsEqualsForm(t *testing.T) {
	debug, configPath := extractEarlyFlags([]string{"--debug=3", "--config=/tmp/app.yml"})
	assert.Equal(t, 3, debug)
	assert.Equal(t, "/tmp/app.yml", configPath)
}

func TestExtractEarlyFlagsSpaceForm(t *testing.T) {
	debug, configPath := extractEarlyFlags([]string{"--debug", "2", "--config", "/tmp/other.yml"})
	assert.Equal(t, 2, debug)
	assert.Equal(t, "/tmp/other.yml", configPath)
}

func TestExtractEarlyFlagsDefaultsWhenAbsent(t *testing.T) {
	debug, configPath := extractEarlyFlags([]string{"--internal=build"})
	assert.Equal(t, 0, debug)
	assert.Equal(t, "", configPath)
}

func TestRequireBasenameMissing(t *testing.T) {
	setupConfig(t, "stages:\n  build:\n    from: alpine\n", nil)
	_, err := requireBasename()
	require.Error(t, err)
}

func TestRequireBasenameReadsConfig(t *testing.T) {
	setupConfig(t, "basename: myapp\nstages: {}\n", nil)
	basename, err := requireBasename()
	require.NoError(t, err)
	assert.Equal(t, "myapp", basename)
}

func TestRemoteConfigDisabledWhenCacheAbsent(t *testing.T) {
	setupConfig(t, "basename: myapp\nstages: {}\n", nil)
	rc, err := remoteConfig()
	require.NoError(t, err)
	assert.False(t, rc.Enabled)
}

func TestRemoteConfigEnabledForS3Driver(t *testing.T) {
	setupConfig(t, "basename: myapp\nstages: {}\ncache:\n  driver: s3\n  bucket: my-bucket\n  prefix: builds\n  region: us-east-1\n", nil)
	rc, err := remoteConfig()
	require.NoError(t, err)
	assert.True(t, rc.Enabled)
	assert.Equal(t, "my-bucket", rc.Bucket)
	assert.Equal(t, "builds", rc.Prefix)
	assert.Equal(t, "us-east-1", rc.Region)
}

func TestBuildPlanOrdersConsumersAfterProducers(t *testing.T) {
	noop := stage.ExecFunc(func(h *stage.Handle) error { return nil })
	init := map[string]interface{}{
		"stages": map[string]interface{}{
			"deps": map[string]interface{}{
				"func_exec": noop,
			},
			"build": map[string]interface{}{
				"func_exec": noop,
			},
		},
	}
	setupConfig(t, `basename: myapp
stages:
  deps:
    from: alpine
    produces: ["/out"]
  build:
    from: alpine
    consumes: ["deps"]
`, init)

	order, err := buildPlan()
	require.NoError(t, err)
	require.Equal(t, []string{"deps", "build"}, order)
}

func TestBuildPlanDetectsCycle(t *testing.T) {
	noop := stage.ExecFunc(func(h *stage.Handle) error { return nil })
	init := map[string]interface{}{
		"stages": map[string]interface{}{
			"a": map[string]interface{}{"func_exec": noop},
			"b": map[string]interface{}{"func_exec": noop},
		},
	}
	setupConfig(t, `basename: myapp
stages:
  a:
    from: alpine
    depends: ["b"]
  b:
    from: alpine
    depends: ["a"]
`, init)

	_, err := buildPlan()
	require.Error(t, err)
}

func TestAddedOptValueSetWritesOpt(t *testing.T) {
	setupConfig(t, "basename: myapp\nstages: {}\n", nil)
	v := &addedOptValue{targetKey: "region"}
	require.NoError(t, v.Set("us-west-2"))
	assert.Equal(t, "us-west-2", v.String())

	got, err := buildconfig.GetConfig("opts", "region")
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", got)
}
