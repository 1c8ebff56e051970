package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ralph-run/ralph/internal/config"
	"github.com/ralph-run/ralph/internal/git"
)

// Paths collects the state-directory layout the coordinator touches
// (spec §6's "State directory layout"). RepoRoot is the main working
// tree the primary loop occupies.
type Paths struct {
	RepoRoot    string
	StateDir    string
	WorktreeDir string
	MemoryFile  string
}

func (p Paths) loopLockPath() string    { return filepath.Join(p.StateDir, "loop.lock") }
func (p Paths) mergeLockPath() string   { return filepath.Join(p.StateDir, "merge.lock") }
func (p Paths) registryPath() string    { return filepath.Join(p.StateDir, "loops", "registry.json") }
func (p Paths) mergeQueuePath() string  { return filepath.Join(p.StateDir, "merge-queue.jsonl") }
func (p Paths) loopsDir() string        { return p.StateDir }
func (p Paths) loopDir(loopID string) string {
	return filepath.Join(p.StateDir, loopID)
}
func (p Paths) historyPath(loopID string) string {
	return filepath.Join(p.loopDir(loopID), "history.jsonl")
}

// Assignment is what a caller gets back from Acquire: either the primary
// slot (run in place, in RepoRoot) or a freshly spawned secondary loop
// (run in a worktree).
type Assignment struct {
	Primary  bool
	Worktree *WorktreeLoop
	Lock     *Lock
}

// WorktreeLoop describes a secondary loop's isolated environment (spec
// §4.7 steps 1-4).
type WorktreeLoop struct {
	LoopID  string
	Branch  string
	Dir     string
	History string
}

// Coordinator implements spec §4.7: it decides whether a new `ralph run`
// invocation becomes the primary loop or spawns into a worktree, and
// drives worktree lifecycle, the loop registry, and the merge queue.
type Coordinator struct {
	Paths Paths
	Git   *git.Git
	Clock func() time.Time
}

// New constructs a Coordinator rooted at paths, verifying git is usable.
func New(ctx context.Context, paths Paths) (*Coordinator, error) {
	g, err := git.NewGit(ctx)
	if err != nil {
		return nil, err
	}
	return &Coordinator{Paths: paths, Git: g}, nil
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Acquire implements spec §4.7's concurrency matrix row 1/2: try the
// primary loop.lock first; on contention, spawn a secondary worktree
// loop instead of blocking.
func (c *Coordinator) Acquire(ctx context.Context, prompt string) (*Assignment, error) {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	lock := NewLock(c.Paths.loopLockPath())
	ok, err := lock.TryAcquire(LockMetadata{PID: os.Getpid(), Started: c.now(), Prompt: prompt})
	if err != nil {
		return nil, err
	}
	if ok {
		return &Assignment{Primary: true, Lock: lock}, nil
	}

	wt, err := c.SpawnWorktreeLoop(ctx)
	if err != nil {
		return nil, err
	}
	return &Assignment{Primary: false, Worktree: wt}, nil
}

// SpawnWorktreeLoop implements spec §4.7 steps 1-4: generate a loop id,
// create its branch and worktree, symlink the shared memory file in,
// and register the loop.
func (c *Coordinator) SpawnWorktreeLoop(ctx context.Context) (*WorktreeLoop, error) {
	loopID := NewLoopID(c.now())
	branch := fmt.Sprintf("ralph/loop/%s", ShortID(loopID))
	worktreeDir := filepath.Join(c.Paths.WorktreeDir, loopID)
	if abs, err := filepath.Abs(worktreeDir); err == nil {
		worktreeDir = abs
	}

	if err := c.Git.CreateBranch(ctx, c.Paths.RepoRoot, branch, "HEAD"); err != nil {
		return nil, fmt.Errorf("spawning worktree loop %s: %w", loopID, err)
	}
	if err := ensureGitignored(c.Paths.RepoRoot, c.Paths.WorktreeDir); err != nil {
		return nil, fmt.Errorf("spawning worktree loop %s: %w", loopID, err)
	}
	if err := c.Git.AddWorktree(ctx, c.Paths.RepoRoot, worktreeDir, branch); err != nil {
		return nil, fmt.Errorf("spawning worktree loop %s: %w", loopID, err)
	}
	if err := c.symlinkMemory(worktreeDir); err != nil {
		return nil, fmt.Errorf("spawning worktree loop %s: %w", loopID, err)
	}

	history := c.Paths.historyPath(loopID)
	rec := LoopRecord{
		LoopID:      loopID,
		Branch:      branch,
		WorktreeDir: worktreeDir,
		StartedAt:   c.now(),
		UpdatedAt:   c.now(),
		Status:      LoopRunning,
		PID:         os.Getpid(),
	}
	if err := AppendHistory(history, rec); err != nil {
		return nil, fmt.Errorf("spawning worktree loop %s: %w", loopID, err)
	}
	if err := NewRegistry(c.Paths.registryPath()).Upsert(rec); err != nil {
		return nil, fmt.Errorf("spawning worktree loop %s: %w", loopID, err)
	}

	return &WorktreeLoop{LoopID: loopID, Branch: branch, Dir: worktreeDir, History: history}, nil
}

// symlinkMemory links the shared memory file into the worktree (spec
// §4.7 step 3: "Symlinks the shared memory file into the worktree; all
// other agent-state files are local to the worktree").
func (c *Coordinator) symlinkMemory(worktreeDir string) error {
	if c.Paths.MemoryFile == "" {
		return nil
	}
	target, err := filepath.Abs(c.Paths.MemoryFile)
	if err != nil {
		return fmt.Errorf("resolving memory file path: %w", err)
	}
	linkDir := filepath.Dir(target)
	linkName := filepath.Join(worktreeDir, filepath.Base(linkDir), filepath.Base(target))
	if err := os.MkdirAll(filepath.Dir(linkName), 0o755); err != nil {
		return fmt.Errorf("creating agent-dir in worktree: %w", err)
	}
	if _, err := os.Lstat(linkName); err == nil {
		return nil
	}
	if err := os.Symlink(target, linkName); err != nil {
		return fmt.Errorf("symlinking memory file into worktree: %w", err)
	}
	return nil
}

// CompleteLoop implements spec §4.7's "Completion": enqueue the loop's
// branch on the merge queue so a merge loop can pick it up, and mark the
// loop completed in both history and registry.
func (c *Coordinator) CompleteLoop(wt *WorktreeLoop) error {
	rec := LoopRecord{
		LoopID:      wt.LoopID,
		Branch:      wt.Branch,
		WorktreeDir: wt.Dir,
		UpdatedAt:   c.now(),
		Status:      LoopCompleted,
	}
	if err := AppendHistory(wt.History, rec); err != nil {
		return fmt.Errorf("completing loop %s: %w", wt.LoopID, err)
	}
	if err := NewRegistry(c.Paths.registryPath()).Upsert(rec); err != nil {
		return fmt.Errorf("completing loop %s: %w", wt.LoopID, err)
	}
	return EnqueueMerge(c.Paths.mergeQueuePath(), MergeQueueEntry{
		LoopID:     wt.LoopID,
		Branch:     wt.Branch,
		EnqueuedAt: c.now(),
	})
}

// AcquireMergeLock implements spec §4.7's "Merges serialize against each
// other on merge.lock." It does not take the primary loop.lock, so new
// worktree loops may still spawn while a merge is in progress.
func (c *Coordinator) AcquireMergeLock(prompt string) (*Lock, bool, error) {
	lock := NewLock(c.Paths.mergeLockPath())
	ok, err := lock.TryAcquire(LockMetadata{PID: os.Getpid(), Started: c.now(), Prompt: prompt})
	if err != nil {
		return nil, false, err
	}
	return lock, ok, nil
}

// MergeResult is what the merge loop reports back after attempting to
// integrate a worktree loop's branch.
type MergeResult struct {
	LoopID      string
	NeedsReview bool
	Output      string
}

// Merge implements spec §4.7's "Merge cannot auto-resolve" row: it
// attempts the merge, and on conflict aborts it and marks the loop
// needs_review, preserving the worktree for manual retry/discard rather
// than leaving a half-merged repo state.
func (c *Coordinator) Merge(ctx context.Context, wt *WorktreeLoop) (*MergeResult, error) {
	mergeResult, err := c.Git.Merge(ctx, c.Paths.RepoRoot, git.MergeOptions{Branch: wt.Branch})
	if err != nil {
		return nil, fmt.Errorf("merging loop %s: %w", wt.LoopID, err)
	}

	status := LoopCompleted
	if mergeResult.HasConflicts {
		status = LoopNeedsReview
		if _, abortErr := c.Git.Merge(ctx, c.Paths.RepoRoot, git.MergeOptions{Abort: true}); abortErr != nil {
			return nil, fmt.Errorf("aborting conflicted merge for loop %s: %w", wt.LoopID, abortErr)
		}
	} else if !mergeResult.Success {
		return nil, fmt.Errorf("merging loop %s: %s", wt.LoopID, mergeResult.ErrorMessage)
	}

	rec := LoopRecord{
		LoopID:      wt.LoopID,
		Branch:      wt.Branch,
		WorktreeDir: wt.Dir,
		UpdatedAt:   c.now(),
		Status:      status,
	}
	if err := AppendHistory(wt.History, rec); err != nil {
		return nil, fmt.Errorf("recording merge result for loop %s: %w", wt.LoopID, err)
	}
	if err := NewRegistry(c.Paths.registryPath()).Upsert(rec); err != nil {
		return nil, fmt.Errorf("recording merge result for loop %s: %w", wt.LoopID, err)
	}

	if status == LoopCompleted {
		if err := c.Git.RemoveWorktree(ctx, c.Paths.RepoRoot, wt.Dir); err != nil {
			return nil, fmt.Errorf("removing worktree for loop %s: %w", wt.LoopID, err)
		}
	}

	return &MergeResult{LoopID: wt.LoopID, NeedsReview: mergeResult.HasConflicts}, nil
}

// Prune implements spec §4.7's crash recovery: rebuild the registry from
// history (in case it is corrupt) and mark running loops with a dead PID
// and no remaining worktree as discarded in the registry. It returns the
// ids of the loops it marked.
func (c *Coordinator) Prune(ctx context.Context) ([]string, error) {
	if err := NewRegistry(c.Paths.registryPath()).Rebuild(c.Paths.loopsDir()); err != nil {
		return nil, fmt.Errorf("rebuilding registry: %w", err)
	}
	records, err := NewRegistry(c.Paths.registryPath()).Load()
	if err != nil {
		return nil, err
	}

	worktrees, err := c.Git.ListWorktrees(ctx, c.Paths.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	var pruned []string
	for id, rec := range records {
		if rec.Status != LoopRunning {
			continue
		}
		if _, hasWorktree := worktrees[rec.WorktreeDir]; hasWorktree {
			continue
		}
		if processAlive(rec.PID) {
			continue
		}
		rec.Status = LoopDiscarded
		rec.UpdatedAt = c.now()
		if err := NewRegistry(c.Paths.registryPath()).Upsert(rec); err != nil {
			return nil, fmt.Errorf("pruning loop %s: %w", id, err)
		}
		pruned = append(pruned, id)
	}
	return pruned, nil
}

// CollectGarbage implements the disk-reclaiming half of `ralph loops prune`:
// beyond crash recovery (Prune), it removes completed/discarded loop
// directories that are older than cfg's retention age, always keeping at
// least cfg.RetentionKeep of the most recently updated ones regardless of
// age. Running loops and loops still needing review are never removed.
func (c *Coordinator) CollectGarbage(cfg config.LoopRetentionConfig) ([]string, error) {
	if cfg.RetentionAgeHours == 0 {
		return nil, nil
	}

	records, err := NewRegistry(c.Paths.registryPath()).Load()
	if err != nil {
		return nil, err
	}

	var eligible []LoopRecord
	for _, rec := range records {
		if rec.Status == LoopCompleted || rec.Status == LoopDiscarded {
			eligible = append(eligible, rec)
		}
	}
	sortByUpdatedAtDesc(eligible)

	cutoff := c.now().Add(-cfg.RetentionAge())
	var removed []string
	for i, rec := range eligible {
		if i < cfg.RetentionKeep {
			continue
		}
		if rec.UpdatedAt.After(cutoff) {
			continue
		}
		dir := c.Paths.loopDir(rec.LoopID)
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("removing loop directory %s: %w", dir, err)
		}
		removed = append(removed, rec.LoopID)
	}
	return removed, nil
}

func sortByUpdatedAtDesc(recs []LoopRecord) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].UpdatedAt.After(recs[j-1].UpdatedAt); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// processAlive sends signal 0 to pid to check for its existence without
// actually signaling it, the same check `cmd/vc/stop.go`'s
// processExists uses.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func ensureGitignored(repoRoot, worktreeDir string) error {
	rel, err := filepath.Rel(repoRoot, worktreeDir)
	if err != nil {
		rel = worktreeDir
	}
	entry := rel + "/"
	gitignorePath := filepath.Join(repoRoot, ".gitignore")

	f, err := os.OpenFile(gitignorePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == strings.TrimSpace(entry) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading .gitignore: %w", err)
	}

	if _, err := f.Seek(0, 2); err != nil {
		return fmt.Errorf("seeking .gitignore: %w", err)
	}
	if _, err := f.WriteString(entry + "\n"); err != nil {
		return fmt.Errorf("appending to .gitignore: %w", err)
	}
	return nil
}
