package backup

import (
	"archive/tar"
	"compress/gzip"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

func makeBrain(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"knowledge.json":   `{"items":[]}`,
		"events.jsonl":     `{"ts":"2026-01-01"}` + "\n",
		"run.log":          "started\n",
		"notes.txt":        "remember the feed rotation\n",
		"binary.bin":       "\x00\x01\x02",
		"knowledge.lock":   "pid 1",
		"nested/deep.json": `{"nested":true}`,
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func snapshotDataFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !archivedExts[filepath.Ext(path)] {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCreateArchivesOnlyDataFiles(t *testing.T) {
	brain := makeBrain(t)
	m := New(brain, t.TempDir(), 0, nil)

	info, err := m.Create("")
	require.NoError(t, err)
	assert.Equal(t, 5, info.Files, "json, jsonl, log, txt, nested json")
	assert.Regexp(t, regexp.MustCompile(`^nexus_backup_\d{4}-\d{2}-\d{2}_\d{6}\.tar\.gz$`), info.Name)
	assert.Positive(t, info.SizeBytes)
	assert.FileExists(t, info.Path)
}

func TestCreateTagSanitized(t *testing.T) {
	m := New(makeBrain(t), t.TempDir(), 0, nil)

	info, err := m.Create("pre upgrade!!")
	require.NoError(t, err)
	assert.Contains(t, info.Name, "_preupgrade.tar.gz")
	assert.True(t, ValidName(info.Name))
}

func TestRoundTripRestoresSameFileSet(t *testing.T) {
	brain := makeBrain(t)
	backups := t.TempDir()
	m := New(brain, backups, 0, nil)

	info, err := m.Create("roundtrip")
	require.NoError(t, err)
	want := snapshotDataFiles(t, brain)

	fresh := t.TempDir()
	restorer := New(fresh, backups, 0, nil)
	res, err := restorer.Restore(info.Name)
	require.NoError(t, err)
	assert.Equal(t, info.Files, res.Files)
	assert.Zero(t, res.Rejected)

	got := snapshotDataFiles(t, fresh)
	assert.Equal(t, want, got)
	assert.NoFileExists(t, filepath.Join(fresh, "binary.bin"))
	assert.NoFileExists(t, filepath.Join(fresh, "knowledge.lock"))
}

func TestRestoreRejectsBadNames(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), 0, nil)
	for _, name := range []string{
		"evil.tar.gz",
		"nexus_backup_.tar.gz",
		"nexus_backup_2026.tgz",
		"../nexus_backup_2026-01-01_000000.tar.gz",
		"",
	} {
		_, err := m.Restore(name)
		require.Error(t, err, name)
		assert.True(t, nexuserr.Is(err, nexuserr.KindValidation), name)
	}
}

func TestRestoreMissingArchive(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), 0, nil)
	_, err := m.Restore("nexus_backup_2026-01-01_000000.tar.gz")
	require.Error(t, err)
	assert.True(t, nexuserr.Is(err, nexuserr.KindNotFound))
}

func writeArchiveWithMembers(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestRestoreSkipsTraversalMembers(t *testing.T) {
	brain := t.TempDir()
	backups := t.TempDir()
	name := "nexus_backup_2026-01-01_000000_evil.tar.gz"
	writeArchiveWithMembers(t, filepath.Join(backups, name), map[string]string{
		"../escape.txt": "bad",
		"/abs.txt":      "bad",
		"ok.json":       `{"a":1}`,
	})

	m := New(brain, backups, 0, nil)
	res, err := m.Restore(name)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 2, res.Rejected)
	assert.FileExists(t, filepath.Join(brain, "ok.json"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(brain), "escape.txt"))
}

func TestRetentionPrunesOldest(t *testing.T) {
	brain := makeBrain(t)
	m := New(brain, t.TempDir(), 2, nil)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	step := 0
	m.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	var names []string
	for i := 0; i < 3; i++ {
		info, err := m.Create("")
		require.NoError(t, err)
		names = append(names, info.Name)
	}

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, names[2], infos[0].Name)
	assert.Equal(t, names[1], infos[1].Name)
	assert.NoFileExists(t, filepath.Join(m.backupDir, names[0]))
}

func TestListEmptyDir(t *testing.T) {
	m := New(t.TempDir(), filepath.Join(t.TempDir(), "missing"), 0, nil)
	infos, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestCreateWithMissingBrainDir(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "nowhere"), t.TempDir(), 0, nil)
	info, err := m.Create("")
	require.NoError(t, err)
	assert.Zero(t, info.Files)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("nexus_backup_2026-01-01_000000.tar.gz"))
	assert.True(t, ValidName("nexus_backup_2026-01-01_000000_mytag.tar.gz"))
	assert.False(t, ValidName("nexus_backup_.tar.gz"))
	assert.False(t, ValidName("other_backup_2026.tar.gz"))
	assert.False(t, ValidName("nexus_backup_2026-01-01_000000.tar.gz.tmp"))
}
