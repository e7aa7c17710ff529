// Package git reports the branch a session's working directory is on.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CurrentBranch returns the checked-out branch of the repository containing
// dir, or "HEAD" when detached.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// RepoRoot returns the top-level directory of the repository containing dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

type branchEntry struct {
	branch  string
	fetched time.Time
}

// BranchCache memoizes CurrentBranch per directory for TTL. Failures are
// cached as "" so non-repositories don't fork git on every refresh.
type BranchCache struct {
	TTL    time.Duration
	lookup func(ctx context.Context, dir string) (string, error)
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]branchEntry
}

// NewBranchCache returns a cache backed by CurrentBranch.
func NewBranchCache(ttl time.Duration) *BranchCache {
	return &BranchCache{
		TTL:     ttl,
		lookup:  CurrentBranch,
		now:     time.Now,
		entries: make(map[string]branchEntry),
	}
}

// Branch returns the cached branch for dir, refreshing it once it expires.
func (c *BranchCache) Branch(ctx context.Context, dir string) string {
	if dir == "" {
		return ""
	}
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[dir]
	c.mu.Unlock()
	if ok && now.Sub(e.fetched) < c.TTL {
		return e.branch
	}

	branch, err := c.lookup(ctx, dir)
	if err != nil {
		branch = ""
	}
	c.mu.Lock()
	c.entries[dir] = branchEntry{branch: branch, fetched: now}
	c.mu.Unlock()
	return branch
}

// Forget drops every cached entry.
func (c *BranchCache) Forget() {
	c.mu.Lock()
	c.entries = make(map[string]branchEntry)
	c.mu.Unlock()
}
