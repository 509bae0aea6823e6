// Package isolation implements the Worktree and Isolation managers
// (spec.md §4.8): the two ways a cluster's tasks can be given a working
// directory distinct from the operator's own checkout.
package isolation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WorktreeState records the lightweight git-worktree isolation a
// cluster may use.
type WorktreeState struct {
	Path   string
	Branch string
}

// WorktreeManager creates and tears down a git worktree per cluster.
// Grounded on internal/agentloop/executor.go's runCommand pattern for
// git subcommands: exec.CommandContext with captured combined output
// folded into the returned error.
type WorktreeManager struct {
	repoDir string
}

// NewWorktreeManager returns a manager rooted at repoDir, the git
// repository new worktrees are created off of.
func NewWorktreeManager(repoDir string) *WorktreeManager {
	return &WorktreeManager{repoDir: repoDir}
}

// BranchName returns the branch name a worktree for clusterSuffix uses.
func BranchName(clusterSuffix string) string {
	return "zeroshot/" + clusterSuffix
}

// Create adds a new worktree at <repoDir>/.zeroshot-worktrees/<suffix>
// on branch zeroshot/<suffix>, creating the branch if it doesn't exist.
func (m *WorktreeManager) Create(ctx context.Context, clusterSuffix string) (WorktreeState, error) {
	branch := BranchName(clusterSuffix)
	path := m.worktreePath(clusterSuffix)

	if err := m.git(ctx, "worktree", "add", "-B", branch, path); err != nil {
		return WorktreeState{}, fmt.Errorf("isolation: creating worktree: %w", err)
	}
	return WorktreeState{Path: path, Branch: branch}, nil
}

// Remove deletes the worktree directory and its branch. Safe to call
// when the worktree no longer exists; git's own "not found" failures
// are treated as success since the desired end state is already true.
func (m *WorktreeManager) Remove(ctx context.Context, state WorktreeState) error {
	if state.Path == "" {
		return nil
	}
	if err := m.git(ctx, "worktree", "remove", "--force", state.Path); err != nil && !isMissingWorktree(err) {
		return fmt.Errorf("isolation: removing worktree: %w", err)
	}
	if state.Branch != "" {
		if err := m.git(ctx, "branch", "-D", state.Branch); err != nil && !isMissingWorktree(err) {
			return fmt.Errorf("isolation: deleting worktree branch: %w", err)
		}
	}
	return nil
}

func (m *WorktreeManager) worktreePath(clusterSuffix string) string {
	return m.repoDir + "/.zeroshot-worktrees/" + clusterSuffix
}

func (m *WorktreeManager) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, out.String())
	}
	return nil
}

func isMissingWorktree(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "is not a working tree") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "branch not found")
}
