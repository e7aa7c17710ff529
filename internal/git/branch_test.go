package git

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchCacheTTL(t *testing.T) {
	calls := 0
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewBranchCache(30 * time.Second)
	c.now = func() time.Time { return now }
	c.lookup = func(context.Context, string) (string, error) {
		calls++
		return "main", nil
	}

	assert.Equal(t, "main", c.Branch(context.Background(), "/repo"))
	assert.Equal(t, "main", c.Branch(context.Background(), "/repo"))
	assert.Equal(t, 1, calls)

	now = now.Add(31 * time.Second)
	c.Branch(context.Background(), "/repo")
	assert.Equal(t, 2, calls)

	c.Forget()
	c.Branch(context.Background(), "/repo")
	assert.Equal(t, 3, calls)
}

func TestBranchCacheCachesFailures(t *testing.T) {
	calls := 0
	c := NewBranchCache(time.Minute)
	c.lookup = func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("not a repo")
	}
	assert.Equal(t, "", c.Branch(context.Background(), "/tmp"))
	assert.Equal(t, "", c.Branch(context.Background(), "/tmp"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "", c.Branch(context.Background(), ""))
}

func TestCurrentBranchRealRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	require.NoError(t, exec.Command("git", "-C", dir, "init", "-q", "-b", "feature-x").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "-c", "user.email=t@t", "-c", "user.name=t",
		"commit", "-q", "--allow-empty", "-m", "init").Run())

	branch, err := CurrentBranch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "feature-x", branch)

	root, err := RepoRoot(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, root)

	_, err = CurrentBranch(context.Background(), t.TempDir())
	assert.Error(t, err)
}
