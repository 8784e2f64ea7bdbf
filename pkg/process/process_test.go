package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateUsesOverrideEnvVar(t *testing.T) {
	locateMu.Lock()
	locateCache = map[string]string{}
	locateMu.Unlock()

	tmp, err := os.CreateTemp(t.TempDir(), "fake-tool")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	require.NoError(t, os.Chmod(tmp.Name(), 0o755))

	t.Setenv("FAKE_TOOL_PROG", tmp.Name())

	path, err := Locate("fake-tool")
	require.NoError(t, err)
	assert.Equal(t, tmp.Name(), path)
}

func TestLocateNeverConsultsPATH(t *testing.T) {
	locateMu.Lock()
	locateCache = map[string]string{}
	locateMu.Unlock()

	t.Setenv("DOES_NOT_EXIST_ANYWHERE_PROG", "")
	_, err := Locate("does-not-exist-anywhere")
	require.Error(t, err)
}

func TestRunCapturesOutput(t *testing.T) {
	out, err := Run(Options{CaptureOutput: true}, []string{"/bin/echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRunNonzeroWithoutCallbackIsFatal(t *testing.T) {
	_, err := Run(Options{SuppressOutput: true, SuppressError: true}, []string{"/bin/false"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited")
}

func TestRunNonzeroCallbackSuppressesError(t *testing.T) {
	called := false
	_, err := Run(Options{
		SuppressOutput: true,
		SuppressError:  true,
		Nonzero: func(code int) error {
			called = true
			assert.Equal(t, 1, code)
			return nil
		},
	}, []string{"/bin/false"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRunSaveRetcode(t *testing.T) {
	var code int
	_, err := Run(Options{
		SuppressOutput: true,
		SuppressError:  true,
		SaveRetcode:    &code,
		Nonzero:        func(int) error { return nil },
	}, []string{"/bin/false"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}
