package git

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OrphanedBranch represents a loop branch with no associated worktree.
type OrphanedBranch struct {
	Name      string
	Timestamp time.Time
	Age       time.Duration
}

// FindOrphanedLoopBranches finds ralph/loop/* branches that have no
// associated worktree — leftovers from crashed loops or worktrees removed
// without a corresponding branch delete. This backs spec §4.7's crash
// recovery: "stale loop entries (dead PID, no worktree) are pruned on
// request".
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) FindOrphanedLoopBranches(ctx context.Context, repoPath string) ([]OrphanedBranch, error) {
	branches, err := g.ListBranches(ctx, repoPath, "ralph/loop/*")
	if err != nil {
		return nil, fmt.Errorf("failed to list loop branches: %w", err)
	}

	// Get all worktrees and their branches
	worktrees, err := g.ListWorktrees(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	// Build a set of branches that have worktrees
	activeBranches := make(map[string]bool)
	for _, branch := range worktrees {
		activeBranches[branch] = true
	}

	// Find orphaned branches
	var orphaned []OrphanedBranch
	now := time.Now()

	for _, branch := range branches {
		if !activeBranches[branch] {
			// This branch has no worktree - it's orphaned
			timestamp, err := g.GetBranchTimestamp(ctx, repoPath, branch)
			if err != nil {
				// Skip branches we can't get timestamps for
				continue
			}

			orphaned = append(orphaned, OrphanedBranch{
				Name:      branch,
				Timestamp: timestamp,
				Age:       now.Sub(timestamp),
			})
		}
	}

	return orphaned, nil
}

// CleanupOrphanedBranches deletes orphaned loop branches older than
// retention. Returns the number of branches deleted and any error
// encountered. If dryRun is true, branches are identified but not deleted.
// `ralph loops prune` passes the same `LoopRetentionConfig.RetentionAge()`
// used to garbage-collect completed loop directories, so a branch that
// survives a clean merge (`Coordinator.Merge` removes the worktree but
// never the branch) is reclaimed on the same schedule.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) CleanupOrphanedBranches(ctx context.Context, repoPath string, retention time.Duration, dryRun bool) (int, error) {
	orphaned, err := g.FindOrphanedLoopBranches(ctx, repoPath)
	if err != nil {
		return 0, fmt.Errorf("failed to find orphaned branches: %w", err)
	}

	if len(orphaned) == 0 {
		return 0, nil
	}

	deletedCount := 0

	for _, branch := range orphaned {
		if branch.Age < retention {
			// Branch is too recent to delete
			continue
		}

		if dryRun {
			fmt.Printf("[DRY RUN] Would delete: %s (age: %.1f days)\n",
				branch.Name, branch.Age.Hours()/24)
			deletedCount++
			continue
		}

		// Delete the branch
		if err := g.DeleteBranch(ctx, repoPath, branch.Name); err != nil {
			// Log error but continue with other branches
			fmt.Printf("Warning: failed to delete branch %s: %v\n", branch.Name, err)
			continue
		}

		fmt.Printf("Deleted orphaned branch: %s (age: %.1f days)\n",
			branch.Name, branch.Age.Hours()/24)
		deletedCount++
	}

	return deletedCount, nil
}

// GetOrphanedBranchSummary returns a summary of orphaned branches for display.
// Groups branches by age category for better visibility.
func (g *Git) GetOrphanedBranchSummary(ctx context.Context, repoPath string) (string, error) {
	orphaned, err := g.FindOrphanedLoopBranches(ctx, repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to find orphaned branches: %w", err)
	}

	if len(orphaned) == 0 {
		return "No orphaned loop branches found.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d orphaned loop branch(es):\n\n", len(orphaned)))

	// Group by age
	var recent, old, veryOld []OrphanedBranch
	for _, branch := range orphaned {
		days := branch.Age.Hours() / 24
		if days < 7 {
			recent = append(recent, branch)
		} else if days < 30 {
			old = append(old, branch)
		} else {
			veryOld = append(veryOld, branch)
		}
	}

	if len(recent) > 0 {
		sb.WriteString("Recent (< 7 days):\n")
		for _, b := range recent {
			sb.WriteString(fmt.Sprintf("  - %s (%.1f days old)\n", b.Name, b.Age.Hours()/24))
		}
		sb.WriteString("\n")
	}

	if len(old) > 0 {
		sb.WriteString("Old (7-30 days):\n")
		for _, b := range old {
			sb.WriteString(fmt.Sprintf("  - %s (%.1f days old)\n", b.Name, b.Age.Hours()/24))
		}
		sb.WriteString("\n")
	}

	if len(veryOld) > 0 {
		sb.WriteString("Very Old (> 30 days):\n")
		for _, b := range veryOld {
			sb.WriteString(fmt.Sprintf("  - %s (%.1f days old)\n", b.Name, b.Age.Hours()/24))
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
