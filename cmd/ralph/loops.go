package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/config"
	"github.com/ralph-run/ralph/internal/coordinator"
	"github.com/ralph-run/ralph/internal/eventlog"
	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/runid"
	"github.com/ralph-run/ralph/internal/session"
)

var loopsCmd = &cobra.Command{
	Use:   "loops",
	Short: "Inspect and manage secondary (worktree) loops",
}

func init() {
	loopsCmd.AddCommand(loopsListCmd)
	loopsCmd.AddCommand(loopsLogsCmd)
	loopsCmd.AddCommand(loopsHistoryCmd)
	loopsCmd.AddCommand(loopsStopCmd)
	loopsCmd.AddCommand(loopsPruneCmd)
	loopsCmd.AddCommand(loopsDiscardCmd)
	loopsCmd.AddCommand(loopsRetryCmd)
	loopsCmd.AddCommand(loopsAttachCmd)
	loopsCmd.AddCommand(loopsDiffCmd)
	loopsCmd.AddCommand(loopsProcessCmd)
	rootCmd.AddCommand(loopsCmd)
}

func openCoordinator(cmd *cobra.Command) (*coordinator.Coordinator, repoPaths, error) {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return nil, repoPaths{}, err
	}
	c, err := coordinator.New(context.Background(), coordinator.Paths{
		RepoRoot:    paths.RepoRoot,
		StateDir:    paths.StateDir,
		WorktreeDir: paths.WorktreeDir,
		MemoryFile:  filepath.Join(paths.AgentDir, "memories.md"),
	})
	if err != nil {
		return nil, repoPaths{}, fmt.Errorf("initializing coordinator: %w", err)
	}
	return c, paths, nil
}

func loopRegistryPath(paths repoPaths) string {
	return filepath.Join(paths.StateDir, "loops", "registry.json")
}

func loopHistoryPath(paths repoPaths, loopID string) string {
	return filepath.Join(paths.StateDir, loopID, "history.jsonl")
}

var loopsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known loops and their status",
	Run: func(cmd *cobra.Command, args []string) {
		_, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		records, err := coordinator.NewRegistry(loopRegistryPath(paths)).Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if meta, err := coordinator.ReadMetadata(filepath.Join(paths.StateDir, "loop.lock")); err == nil {
			cyan := color.New(color.FgCyan).SprintFunc()
			fmt.Printf("%s primary: pid %d, started %s, prompt %q\n",
				cyan("→"), meta.PID, meta.Started.Format(time.RFC3339), meta.Prompt)
		}

		ids := make([]string, 0, len(records))
		for id := range records {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := records[id]
			fmt.Printf("%-32s %-14s %s  %s\n", rec.LoopID, rec.Status, rec.Branch, rec.UpdatedAt.Format(time.RFC3339))
		}
	},
}

var loopsHistoryCmd = &cobra.Command{
	Use:   "history <loop-id>",
	Short: "Print a loop's append-only status history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		data, err := os.ReadFile(loopHistoryPath(paths, args[0]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
	},
}

var loopsLogsCmd = &cobra.Command{
	Use:   "logs <loop-id>",
	Short: "Print a loop's events file",
	Long: `logs reads the named loop's own current-events marker (inside its
worktree, since a secondary loop's run-identity events file is local to its
clone — spec §6's "<worktree-dir>/<loop_id>/... full clone") and prints its
contents.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := findLoopRecord(paths, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		loopStateDir := filepath.Join(rec.WorktreeDir, paths.StateDirRel)
		eventsPath, err := runid.CurrentEventsPath(loopStateDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		data, err := os.ReadFile(eventsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
	},
}

var loopsStopCmd = &cobra.Command{
	Use:   "stop <loop-id>",
	Short: "Send a graceful, then forceful, stop signal to a running loop",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		_, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := findLoopRecord(paths, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := stopLoopProcess(rec.PID, timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s stopped loop %s (pid %d)\n", green("✓"), rec.LoopID, rec.PID)
	},
}

func init() {
	loopsStopCmd.Flags().Duration("timeout", 30*time.Second, "graceful-shutdown timeout before SIGKILL")
}

var loopsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Recover from crashed loops and reclaim old completed loop directories",
	Long: `prune does three things: first, spec §4.7's crash recovery — rebuild the
registry from history and mark loops with a dead PID and no remaining
worktree as discarded. Then it removes completed/discarded loop
directories older than RALPH_LOOP_RETENTION_AGE_HOURS, always keeping at
least RALPH_LOOP_RETENTION_KEEP of the most recent regardless of age.
Finally it deletes ralph/loop/* branches left behind by a clean merge
(which removes the worktree but not the branch) on the same retention
window.`,
	Run: func(cmd *cobra.Command, args []string) {
		c, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		discarded, err := c.Prune(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		retention, err := config.LoopRetentionConfigFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		removed, err := c.CollectGarbage(retention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		deletedBranches, err := c.Git.CleanupOrphanedBranches(context.Background(), paths.RepoRoot, retention.RetentionAge(), false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		for _, id := range discarded {
			fmt.Printf("%s marked crashed loop %s discarded\n", green("✓"), id)
		}
		for _, id := range removed {
			fmt.Printf("%s removed loop directory %s\n", green("✓"), id)
		}
		if deletedBranches > 0 {
			fmt.Printf("%s deleted %d orphaned loop branch(es)\n", green("✓"), deletedBranches)
		}
		if len(discarded) == 0 && len(removed) == 0 && deletedBranches == 0 {
			fmt.Printf("%s nothing to prune under %s\n", green("✓"), paths.StateDir)
		}
	},
}

var loopsDiscardCmd = &cobra.Command{
	Use:   "discard <loop-id>",
	Short: "Abandon a loop: remove its worktree and mark it discarded",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := findLoopRecord(paths, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		if worktrees, err := c.Git.ListWorktrees(ctx, paths.RepoRoot); err == nil {
			if _, ok := worktrees[rec.WorktreeDir]; ok {
				if err := c.Git.RemoveWorktree(ctx, paths.RepoRoot, rec.WorktreeDir); err != nil {
					fmt.Fprintf(os.Stderr, "Error removing worktree: %v\n", err)
					os.Exit(1)
				}
			}
		}

		rec.Status = coordinator.LoopDiscarded
		rec.UpdatedAt = time.Now()
		if err := coordinator.AppendHistory(loopHistoryPath(paths, rec.LoopID), rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := coordinator.NewRegistry(loopRegistryPath(paths)).Upsert(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s discarded loop %s\n", green("✓"), rec.LoopID)
	},
}

var loopsRetryCmd = &cobra.Command{
	Use:   "retry <loop-id>",
	Short: "Retry merging a loop that needs review",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := findLoopRecord(paths, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		lock, ok, err := c.AcquireMergeLock(fmt.Sprintf("retry %s", rec.LoopID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: merge.lock is held by another merge in progress\n")
			os.Exit(1)
		}
		defer func() { _ = lock.Release() }()

		result, err := c.Merge(context.Background(), &coordinator.WorktreeLoop{
			LoopID:  rec.LoopID,
			Branch:  rec.Branch,
			Dir:     rec.WorktreeDir,
			History: loopHistoryPath(paths, rec.LoopID),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		if result.NeedsReview {
			fmt.Printf("%s loop %s still needs review (conflicts remain)\n", yellow("⚠"), rec.LoopID)
		} else {
			fmt.Printf("%s merged loop %s\n", green("✓"), rec.LoopID)
		}
	},
}

var loopsDiffCmd = &cobra.Command{
	Use:   "diff <loop-id>",
	Short: "Show git diff between a loop's branch and the repo's current HEAD",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := findLoopRecord(paths, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		base, _ := cmd.Flags().GetString("base")

		diff, err := c.Git.DiffBranches(context.Background(), paths.RepoRoot, base, rec.Branch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(diff)
	},
}

func init() {
	loopsDiffCmd.Flags().String("base", "HEAD", "base ref to diff the loop's branch against")
}

var loopsProcessCmd = &cobra.Command{
	Use:   "process <loop-id>",
	Short: "Replay a loop's history through the session journal format",
	Long: `process reads <loop-id>/history.jsonl (the coordinator's append-only
lifecycle log) and re-renders it as session.Entry-shaped JSONL lines on
stdout, the same format internal/session writes during a live run — for
offline inspection with the same tooling (spec §4.8's "side-channel for
post-hoc replay").`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := processLoopHistory(os.Stdout, loopHistoryPath(paths, args[0])); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var loopsAttachCmd = &cobra.Command{
	Use:   "attach <loop-id>",
	Short: "Interactively follow a loop's events and drop operator notes into it",
	Long: `attach polls the named loop's events file and prints newly appended
events as they arrive, while a readline prompt lets the operator type a
line of text that is emitted as an "operator.note" event into that same
loop — a lightweight two-way follow session, reusing the teacher's
readline.NewEx + history-file pattern from internal/repl/repl.go.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, paths, err := openCoordinator(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := findLoopRecord(paths, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := attachToLoop(rec, paths.StateDirRel); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func findLoopRecord(paths repoPaths, loopID string) (coordinator.LoopRecord, error) {
	records, err := coordinator.NewRegistry(loopRegistryPath(paths)).Load()
	if err != nil {
		return coordinator.LoopRecord{}, err
	}
	rec, ok := records[loopID]
	if !ok {
		return coordinator.LoopRecord{}, fmt.Errorf("no such loop %q", loopID)
	}
	return rec, nil
}

// stopLoopProcess sends SIGINT, waits up to timeout, then escalates to
// SIGKILL — the same two-step shutdown cmd/vc/stop.go uses for executor
// instances, adapted here to a loop's own PID.
func stopLoopProcess(pid int, timeout time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("no recorded PID for this loop")
	}
	if syscall.Kill(pid, syscall.Signal(0)) != nil {
		return fmt.Errorf("process %d is not running", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
		return fmt.Errorf("sending SIGINT: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("sending SIGKILL after timeout: %w", err)
	}
	return nil
}

// processLoopHistory renders a loop's history.jsonl as session.Entry JSONL
// lines, one per status transition, so `loops process` output can be
// inspected with the same tooling a live session.jsonl journal uses.
func processLoopHistory(w io.Writer, historyPath string) error {
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return fmt.Errorf("reading loop history: %w", err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec coordinator.LoopRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		entry := session.Entry{
			Time:  rec.UpdatedAt,
			Topic: "_meta.loop_status." + string(rec.Status),
			Data:  rec,
		}
		out, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(out)); err != nil {
			return err
		}
	}
	return nil
}

// attachToLoop drives the interactive follow session: a background poll
// loop prints newly appended events, and the foreground readline prompt
// emits whatever the operator types as an operator.note event.
func attachToLoop(rec coordinator.LoopRecord, stateDirRel string) error {
	loopStateDir := filepath.Join(rec.WorktreeDir, stateDirRel)
	eventsPath, err := runid.CurrentEventsPath(loopStateDir)
	if err != nil {
		return fmt.Errorf("resolving loop's current-events marker: %w", err)
	}

	historyPath, err := readlineHistoryPath()
	if err != nil {
		historyPath = ""
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       cyan(fmt.Sprintf("%s> ", rec.LoopID)),
		HistoryFile:  historyPath,
		HistoryLimit: 1000,
	})
	if err != nil {
		return fmt.Errorf("creating readline: %w", err)
	}
	defer rl.Close()

	reader := eventlog.NewReader(eventsPath)
	if _, err := reader.ReadNew(); err != nil {
		return fmt.Errorf("reading existing events: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				result, err := reader.ReadNew()
				if err != nil {
					continue
				}
				for _, ev := range result.Events {
					fmt.Fprintf(rl.Stderr(), "%s %s\n", ev.Topic, payloadSummary(ev))
				}
			}
		}
	}()

	logger := eventlog.NewLogger(eventsPath)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := logger.PublishRecord(events.New("operator.note", line)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to emit operator note: %v\n", err)
		}
	}
}

func payloadSummary(ev events.Event) string {
	if s, ok := ev.PayloadString(); ok {
		return s
	}
	return fmt.Sprintf("%v", ev.Payload)
}

func readlineHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ralph_attach_history"), nil
}
