package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "myapp_build.tar.bz2", ArchivePath("myapp", "build"))
}

func TestIsFreshMissingArchiveIsStale(t *testing.T) {
	dir := t.TempDir()
	fresh, err := IsFresh(filepath.Join(dir, "missing.tar.bz2"), nil)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestIsFreshNewerThanConfigFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfg, []byte("basename: app\n"), 0o644))

	archive := filepath.Join(dir, "app_build.tar.bz2")
	require.NoError(t, os.WriteFile(archive, []byte("data"), 0o644))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(archive, future, future))

	fresh, err := IsFresh(archive, []string{cfg})
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestIsFreshStaleWhenConfigIsNewer(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "app_build.tar.bz2")
	require.NoError(t, os.WriteFile(archive, []byte("data"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(archive, past, past))

	cfg := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfg, []byte("basename: app\n"), 0o644))

	fresh, err := IsFresh(archive, []string{cfg})
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestLoadPatternsNilWhenUnset(t *testing.T) {
	m, err := loadPatterns(t.TempDir(), nil, "")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestListFilesExcludesIgnoredPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "skip.log"), []byte("x"), 0o644))

	matcher, err := loadPatterns(dir, []string{"*.log"}, "")
	require.NoError(t, err)
	require.NotNil(t, matcher)

	files, err := listFiles(dir, "out", matcher)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/keep.txt"}, files)
}

func TestFreshnessIndexRecordAndExplain(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenFreshnessIndex(dir)
	require.NoError(t, err)
	defer idx.Close()

	now := time.Now().Truncate(time.Second)
	require.NoError(t, idx.Record("build", now, map[string]time.Time{"config.yml": now}))

	rec, found, err := idx.Explain("build")
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, now, rec.ArchiveModTime, time.Second)

	_, found, err = idx.Explain("nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParseUserSpecFull(t *testing.T) {
	u, err := parseUserSpec("alice=1001:staff=2001")
	require.NoError(t, err)
	assert.Equal(t, userSpec{name: "alice", uid: "1001", group: "staff", gid: "2001"}, u)
}

func TestParseUserSpecNameOnly(t *testing.T) {
	u, err := parseUserSpec("bob")
	require.NoError(t, err)
	assert.Equal(t, userSpec{name: "bob"}, u)
}

func TestIsNoSuchKeyFalseForPlainError(t *testing.T) {
	assert.False(t, isNoSuchKey(assert.AnError))
}
