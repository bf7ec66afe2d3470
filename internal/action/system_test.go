package action

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
)

func newSystemExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	gate := policy.New(policy.Options{Mode: policy.ModeFullAuto, ProjectRoot: dir})
	e := New(Options{Gate: gate, ProjectRoot: dir})
	RegisterSystemActions(e, SystemOptions{Gate: gate})
	return e
}

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "dev"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
}

func TestGitStatusReportsDirtyFiles(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	e := newSystemExecutor(t)
	initGitRepo(t, e.ProjectRoot())
	require.NoError(t, os.WriteFile(filepath.Join(e.ProjectRoot(), "new.txt"), []byte("x"), 0o644))

	res := e.Execute(context.Background(), "git_status", nil, 0)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Data["dirty_files"])
	assert.Equal(t, false, res.Data["clean"])
}

func TestGitCommitAddAll(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	e := newSystemExecutor(t)
	initGitRepo(t, e.ProjectRoot())
	require.NoError(t, os.WriteFile(filepath.Join(e.ProjectRoot(), "tracked.txt"), []byte("v1"), 0o644))

	res := e.Execute(context.Background(), "git_commit", Params{"message": "add tracked file", "add_all": true}, 0)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.NotEmpty(t, res.Data["commit"])

	status := e.Execute(context.Background(), "git_status", nil, 0)
	assert.Equal(t, true, status.Data["clean"])
}

func TestGitCommitEmptyMessageRejected(t *testing.T) {
	e := newSystemExecutor(t)
	res := e.Execute(context.Background(), "git_commit", Params{"message": "  "}, 0)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestInstallPackageUnsupportedManager(t *testing.T) {
	e := newSystemExecutor(t)
	res := e.Execute(context.Background(), "install_package", Params{"package": "requests", "manager": "brew"}, 0)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "unsupported manager")
}

func TestInstallPackageMetacharactersBlocked(t *testing.T) {
	e := newSystemExecutor(t)
	res := e.Execute(context.Background(), "install_package", Params{"package": "requests; rm -rf /"}, 0)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, res.PolicyBlocked)
}

func TestRunTestsUnsupportedRunner(t *testing.T) {
	e := newSystemExecutor(t)
	res := e.Execute(context.Background(), "run_tests", Params{"runner": "cargo"}, 0)
	assert.Equal(t, StatusFailed, res.Status)
}
