package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeBuildah(t *testing.T) {
	t.Helper()
	t.Setenv("BUILDAH_PROG", "/bin/echo")
}

func TestFromBuildsArgv(t *testing.T) {
	withFakeBuildah(t)
	out, err := From(map[string]interface{}{"name": "foo", "pull": "always"}, "alpine:latest")
	require.NoError(t, err)
	assert.Equal(t, "from --name foo --pull always alpine:latest", out)
}

func TestFromRejectsInvalidReference(t *testing.T) {
	withFakeBuildah(t)
	_, err := From(map[string]interface{}{}, "")
	require.Error(t, err)
}

func TestTagRejectsInvalidReference(t *testing.T) {
	_, params := "tag", map[string]interface{}{"image": "::not-a-ref::"}
	err := Tag(params, "v1")
	require.Error(t, err)
}

func TestFromAcceptsDockerTransportPrefixedReference(t *testing.T) {
	withFakeBuildah(t)
	out, err := From(map[string]interface{}{"name": "foo"}, "docker://docker.io/alpine:3.20")
	require.NoError(t, err)
	assert.Equal(t, "from --name foo docker://docker.io/alpine:3.20", out)
}

func TestStripTransportPrefixLeavesUnprefixedRefUnchanged(t *testing.T) {
	assert.Equal(t, "alpine:latest", stripTransportPrefix("alpine:latest"))
	assert.Equal(t, "docker.io/alpine:3.20", stripTransportPrefix("docker://docker.io/alpine:3.20"))
}

func TestContainersBuildsFlagArgv(t *testing.T) {
	withFakeBuildah(t)
	// Rm suppresses output, so its argv cannot be observed here; this
	// checks Containers' flag argv instead. The --all exclusivity Rm
	// relies on is covered by grammar's tests.
	out, err := Containers(map[string]interface{}{"all": true, "quiet": true})
	require.NoError(t, err)
	assert.Equal(t, "containers --all --quiet", out)
}

func TestUnshareBuildsMountArgWithEnvname(t *testing.T) {
	withFakeBuildah(t)
	err := Unshare(map[string]interface{}{"container": "c1", "envname": "MNT"}, "/bin/true")
	require.NoError(t, err)
}

func TestUnshareBuildsMountArgWithoutEnvname(t *testing.T) {
	withFakeBuildah(t)
	err := Unshare(map[string]interface{}{"container": "c1"}, "/bin/true")
	require.NoError(t, err)
}

func TestContainerCommitIncludesAddHistory(t *testing.T) {
	withFakeBuildah(t)
	out, err := Container{Name: "work1"}.Commit(map[string]interface{}{"message": "built"}, "myimage:latest")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "commit --add-history --message built work1 myimage:latest"))
}

func TestContainerCommitRejectsInvalidReference(t *testing.T) {
	_, err := Container{Name: "work1"}.Commit(map[string]interface{}{}, "")
	require.Error(t, err)
}

func TestNormalizeCommandsScalar(t *testing.T) {
	cmds, err := normalizeCommands("echo hi")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"echo hi"}}, cmds)
}

func TestNormalizeCommandsSingleCommandMultipleWords(t *testing.T) {
	cmds, err := normalizeCommands([]string{"echo", "hi"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"echo", "hi"}}, cmds)
}

func TestNormalizeCommandsManyCommands(t *testing.T) {
	cmds, err := normalizeCommands([][]string{{"echo", "a"}, {"echo", "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"echo", "a"}, {"echo", "b"}}, cmds)
}

func TestNormalizeCommandsRejectsBadShape(t *testing.T) {
	_, err := normalizeCommands(42)
	require.Error(t, err)
}

func TestOrderTagsSortsSemver(t *testing.T) {
	got := orderTags([]string{"v1.2.0", "v1.0.0", "v1.1.0"})
	assert.Equal(t, []string{"v1.0.0", "v1.1.0", "v1.2.0"}, got)
}

func TestOrderTagsLeavesNonSemverUnchanged(t *testing.T) {
	in := []string{"latest", "stable"}
	got := orderTags(in)
	assert.Equal(t, in, got)
}

func TestParseInfoEmpty(t *testing.T) {
	v, err := parseInfo("")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestParseInfoInvalidJSON(t *testing.T) {
	_, err := parseInfo("not json")
	require.Error(t, err)
}
