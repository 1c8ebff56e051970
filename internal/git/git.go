package git

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Git shells out to the git CLI.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// DiffBranches returns the diff between base and branch (`git diff
// base...branch`), used by `ralph loops diff` to show what a worktree
// loop changed relative to the branch it started from.
// SECURITY: repoPath must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) DiffBranches(ctx context.Context, repoPath, base, branch string) (string, error) {
	args := []string{"-C", repoPath, "diff", fmt.Sprintf("%s...%s", base, branch)}
	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff %s...%s failed in %s: %w", base, branch, repoPath, err)
	}
	return string(output), nil
}

// Merge merges a branch into the current branch of repoPath, or aborts an
// in-progress merge. Coordinator.Merge calls it to integrate a worktree
// loop's branch back, falling back to Abort and marking the loop
// needs_review when it cannot auto-resolve.
// SECURITY: repoPath must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) Merge(ctx context.Context, repoPath string, opts MergeOptions) (*MergeResult, error) {
	result := &MergeResult{}

	if (opts.Branch == "") == (!opts.Abort) {
		return nil, fmt.Errorf("exactly one of Branch or Abort must be specified")
	}

	branchCmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	branchOutput, err := branchCmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get current branch: %w", err)
	}
	result.CurrentBranch = strings.TrimSpace(string(branchOutput))

	if opts.Abort {
		abortCmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "merge", "--abort")
		if err := abortCmd.Run(); err != nil {
			result.ErrorMessage = fmt.Sprintf("merge --abort failed: %v", err)
			result.AbortedSuccessfully = false
			return result, fmt.Errorf("git merge --abort failed in %s: %w", repoPath, err)
		}
		result.Success = true
		result.AbortedSuccessfully = true
		return result, nil
	}

	result.MergedBranch = opts.Branch

	noopEditor := "true"
	if runtime.GOOS == "windows" {
		noopEditor = "cmd.exe /c exit 0"
	}
	mergeCmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "merge", "--no-edit", opts.Branch)
	mergeCmd.Env = append(os.Environ(),
		fmt.Sprintf("GIT_EDITOR=%s", noopEditor),
		"GIT_TERMINAL_PROMPT=0",
	)
	output, err := mergeCmd.CombinedOutput()

	if err != nil {
		hasConflicts, conflictErr := g.hasConflicts(ctx, repoPath)
		if conflictErr != nil {
			result.ErrorMessage = fmt.Sprintf("merge failed and conflict check failed: %v\nMerge output: %s", conflictErr, string(output))
			return result, fmt.Errorf("git merge failed in %s and conflict check failed: %w", repoPath, err)
		}

		if hasConflicts {
			result.HasConflicts = true
			result.ConflictedFiles = g.getConflictedFiles(ctx, repoPath)
			result.ErrorMessage = fmt.Sprintf("merge failed with conflicts: %s", string(output))
			return result, nil // Return nil error since conflicts are expected and handled
		}

		result.ErrorMessage = fmt.Sprintf("merge failed: %v\nOutput: %s", err, string(output))
		return result, fmt.Errorf("git merge failed in %s: %w", repoPath, err)
	}

	result.Success = true
	return result, nil
}

// CreateBranch creates branch off startPoint (e.g. "HEAD") without
// checking it out, for spec §4.7 step 2's `ralph/loop/<short-id>` branch.
func (g *Git) CreateBranch(ctx context.Context, repoPath, branch, startPoint string) error {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "branch", branch, startPoint)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git branch %s failed: %w (output: %s)", branch, err, out)
	}
	return nil
}

// AddWorktree creates a worktree at path checked out to branch (spec
// §4.7 step 2).
func (g *Git) AddWorktree(ctx context.Context, repoPath, path, branch string) error {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "add", path, branch)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree add %s failed: %w (output: %s)", path, err, out)
	}
	return nil
}

// RemoveWorktree force-removes the worktree at path, falling back to
// pruning the worktree list if git refuses (e.g. the directory was
// already deleted out from under it).
func (g *Git) RemoveWorktree(ctx context.Context, repoPath, path string) error {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "remove", path, "--force")
	if _, err := cmd.CombinedOutput(); err != nil {
		prune := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "prune")
		_ = prune.Run()
	}
	return nil
}

// hasConflicts checks if there are unmerged files (merge conflicts).
// This uses git diff --diff-filter=U which specifically checks for unmerged paths.
//
//nolint:unparam // error return reserved for future error conditions
func (g *Git) hasConflicts(ctx context.Context, repoPath string) (bool, error) {
	// Use git diff to check for unmerged paths (conflicts)
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--name-only", "--diff-filter=U")
	output, err := cmd.Output()
	if err != nil {
		// If the command fails, it might be because we're not in a rebase
		// In that case, there are no conflicts
		return false, nil
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// getConflictedFiles returns a list of files with merge conflicts.
func (g *Git) getConflictedFiles(ctx context.Context, repoPath string) []string {
	// Use git diff --name-only --diff-filter=U to find unmerged files
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--name-only", "--diff-filter=U")
	output, err := cmd.Output()
	if err != nil {
		return []string{}
	}

	var files []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}

	return files
}

// ListBranches returns a list of branches matching the specified pattern.
// If pattern is empty, all branches are returned.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) ListBranches(ctx context.Context, repoPath string, pattern string) ([]string, error) {
	args := []string{"-C", repoPath, "branch", "--list"}
	if pattern != "" {
		args = append(args, pattern)
	}

	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git branch --list failed in %s: %w", repoPath, err)
	}

	var branches []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Remove the "* " prefix for current branch
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			branches = append(branches, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse branch list: %w", err)
	}

	return branches, nil
}

// ListWorktrees returns a list of all worktrees in the repository.
// Returns a map of worktree path -> branch name.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) ListWorktrees(ctx context.Context, repoPath string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "list", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list failed in %s: %w", repoPath, err)
	}

	worktrees := make(map[string]string)
	var currentPath, currentBranch string

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()

		// Porcelain format:
		// worktree <path>
		// HEAD <sha>
		// branch <branch> (or detached if detached HEAD)
		// <blank line between worktrees>

		if strings.HasPrefix(line, "worktree ") {
			currentPath = strings.TrimPrefix(line, "worktree ")
		} else if strings.HasPrefix(line, "branch ") {
			currentBranch = strings.TrimPrefix(line, "branch ")
			// Extract just the branch name (refs/heads/mission/vc-123/...)
			currentBranch = strings.TrimPrefix(currentBranch, "refs/heads/")
		} else if line == "" && currentPath != "" {
			// End of worktree entry - save it
			if currentBranch != "" {
				worktrees[currentPath] = currentBranch
			}
			currentPath = ""
			currentBranch = ""
		}
	}

	// Handle last entry if file doesn't end with blank line
	if currentPath != "" && currentBranch != "" {
		worktrees[currentPath] = currentBranch
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse worktree list: %w", err)
	}

	return worktrees, nil
}

// GetBranchTimestamp returns the commit timestamp of the most recent commit on the branch.
// This can be used to determine the age of orphaned branches.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) GetBranchTimestamp(ctx context.Context, repoPath string, branchName string) (time.Time, error) {
	// Get the commit timestamp using git show
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "show", "-s", "--format=%ct", branchName)
	output, err := cmd.Output()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get branch timestamp for %s: %w", branchName, err)
	}

	timestampStr := strings.TrimSpace(string(output))
	var timestamp int64
	if _, err := fmt.Sscanf(timestampStr, "%d", &timestamp); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %s: %w", timestampStr, err)
	}

	return time.Unix(timestamp, 0), nil
}

// DeleteBranch deletes a branch in the repository.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) DeleteBranch(ctx context.Context, repoPath string, branchName string) error {
	// Check if branch exists
	checkCmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "--verify", branchName)
	if err := checkCmd.Run(); err != nil {
		// Branch doesn't exist - not an error, just return
		return nil
	}

	// Delete the branch (use -D to force delete even if not fully merged)
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "branch", "-D", branchName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git branch -D failed: %w (output: %s)", err, string(output))
	}

	return nil
}
