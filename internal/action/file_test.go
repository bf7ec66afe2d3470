package action

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)

	write := e.Execute(context.Background(), "write_file", Params{"path": "a/b/c.txt", "content": "round trip"}, 0)
	require.Equal(t, StatusSuccess, write.Status)
	require.NotNil(t, write.ObjectiveSuccess)
	assert.True(t, *write.ObjectiveSuccess)

	read := e.Execute(context.Background(), "read_file", Params{"path": "a/b/c.txt"}, 0)
	require.Equal(t, StatusSuccess, read.Status)
	assert.Equal(t, "round trip", read.Output)
}

func TestWriteFileOverwrites(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)

	e.Execute(context.Background(), "write_file", Params{"path": "x.txt", "content": "first"}, 0)
	e.Execute(context.Background(), "write_file", Params{"path": "x.txt", "content": "second"}, 0)

	read := e.Execute(context.Background(), "read_file", Params{"path": "x.txt"}, 0)
	assert.Equal(t, "second", read.Output)
}

func TestEditFileReplacesFirstOccurrenceOnly(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	path := filepath.Join(e.ProjectRoot(), "edit.txt")
	require.NoError(t, os.WriteFile(path, []byte("aXbXc"), 0o644))

	res := e.Execute(context.Background(), "edit_file", Params{"path": "edit.txt", "old": "X", "new": "Y"}, 0)
	require.Equal(t, StatusSuccess, res.Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "aYbXc", string(data))
}

func TestEditFileMissingOldNeverWrites(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	path := filepath.Join(e.ProjectRoot(), "edit.txt")
	require.NoError(t, os.WriteFile(path, []byte("untouched"), 0o644))
	before, err := os.Stat(path)
	require.NoError(t, err)

	res := e.Execute(context.Background(), "edit_file", Params{"path": "edit.txt", "old": "absent", "new": "x"}, 0)
	assert.Equal(t, StatusFailed, res.Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "untouched", string(data))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestEditFileEmptyOldRejected(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	res := e.Execute(context.Background(), "edit_file", Params{"path": "any.txt", "old": "", "new": "x"}, 0)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "non-empty")
}

func TestDeleteFile(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	path := filepath.Join(e.ProjectRoot(), "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))

	res := e.Execute(context.Background(), "delete_file", Params{"path": "gone.txt"}, 0)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.ObjectiveSuccess)
	assert.True(t, *res.ObjectiveSuccess)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteMissingFileFails(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	res := e.Execute(context.Background(), "delete_file", Params{"path": "never.txt"}, 0)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestListDirectorySorted(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	root := e.ProjectRoot()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	res := e.Execute(context.Background(), "list_directory", Params{"path": "."}, 0)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "a.txt\nb.txt\nsub/", res.Output)
}

func TestCreateDirectory(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)

	res := e.Execute(context.Background(), "create_directory", Params{"path": "deep/nest/here"}, 0)
	require.Equal(t, StatusSuccess, res.Status)

	info, err := os.Stat(filepath.Join(e.ProjectRoot(), "deep", "nest", "here"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// Prefix and suffix draw from a disjoint alphabet so the generated old text
// occurs exactly once, making the expected result exact.
func TestEditFileExactlyOnceProperty(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	path := filepath.Join(e.ProjectRoot(), "prop.txt")

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60
	properties := gopter.NewProperties(params)

	properties.Property("edit_file rewrites the first match and nothing else", prop.ForAll(
		func(prefix, old, suffix, replacement string) bool {
			content := prefix + old + suffix
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return false
			}
			res := e.Execute(context.Background(), "edit_file", Params{"path": "prop.txt", "old": old, "new": replacement}, 0)
			if res.Status != StatusSuccess {
				return false
			}
			got, err := os.ReadFile(path)
			if err != nil {
				return false
			}
			return string(got) == prefix+replacement+suffix
		},
		gen.RegexMatch(`[ab]{0,20}`),
		gen.RegexMatch(`[xy]{1,10}`),
		gen.RegexMatch(`[ab]{0,20}`),
		gen.RegexMatch(`[mn]{0,10}`),
	))

	properties.TestingRun(t)
}

func TestReadFileRejectsDirectory(t *testing.T) {
	e := newTestExecutor(t, policy.ModeFullAuto)
	res := e.Execute(context.Background(), "read_file", Params{"path": "."}, 0)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, strings.ToLower(res.Error), "directory")
}
