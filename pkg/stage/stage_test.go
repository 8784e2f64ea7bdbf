package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/buildahutil/pkg/buildconfig"
)

func setupConfig(t *testing.T, extra map[string]interface{}) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	contents := `basename: app
stages:
  build:
    from: alpine
    func_exec: placeholder
    produces:
      - /out
    consumes:
      - deps
  deps:
    from: alpine
    func_exec: placeholder
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	init := map[string]interface{}{
		"stages": map[string]interface{}{
			"build": map[string]interface{}{
				"func_exec": ExecFunc(func(h *Handle) error { return nil }),
			},
			"deps": map[string]interface{}{
				"func_exec": ExecFunc(func(h *Handle) error { return nil }),
			},
		},
	}
	for k, v := range extra {
		init[k] = v
	}

	require.NoError(t, buildconfig.InitConfig(init))
	buildconfig.SetDataFilePath(path)
	t.Cleanup(buildconfig.TestReset)
}

func TestNewBuildsHandleFromConfig(t *testing.T) {
	setupConfig(t, nil)

	h, err := New("build")
	require.NoError(t, err)
	assert.Equal(t, "build", h.GetName())
	assert.Equal(t, "app_build", h.ContainerName())

	from, err := h.GetFrom()
	require.NoError(t, err)
	assert.Equal(t, "alpine", from)

	produces, err := h.GetProduces()
	require.NoError(t, err)
	assert.Equal(t, []string{"/out"}, produces)

	consumes, err := h.GetConsumes()
	require.NoError(t, err)
	assert.Equal(t, []string{"deps"}, consumes)
}

func TestNewFailsForUnknownStage(t *testing.T) {
	setupConfig(t, nil)
	_, err := New("missing")
	require.Error(t, err)
}

func TestMountPointAbsentUntilSet(t *testing.T) {
	setupConfig(t, nil)
	h, err := New("build")
	require.NoError(t, err)

	_, present := h.MountPoint()
	assert.False(t, present)

	h.SetMountPoint("/mnt/x")
	mp, present := h.MountPoint()
	assert.True(t, present)
	assert.Equal(t, "/mnt/x", mp)
}

func TestGetFuncExecReturnsCallable(t *testing.T) {
	setupConfig(t, nil)
	h, err := New("build")
	require.NoError(t, err)

	fn, err := h.GetFuncExec()
	require.NoError(t, err)
	require.NoError(t, fn(h))
}

func TestGetCommitAbsentByDefault(t *testing.T) {
	setupConfig(t, nil)
	h, err := New("build")
	require.NoError(t, err)

	_, present, err := h.GetCommit()
	require.NoError(t, err)
	assert.False(t, present)
}
