package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Ralph drives a coding agent through an event-routed iteration loop",
	Long: `Ralph is an event-driven iteration engine: it re-invokes a coding agent
against a hat-routed event queue, turn after turn, until one of a fixed set
of termination predicates fires (completion promise, iteration or runtime
cap, validation failure, or a manual stop).

Every subcommand operates against a repository (--repo, defaulting to the
current directory), a state directory (--state-dir, default .ralph) and an
agent directory (--agent-dir, default .agent) rooted there.`,
}

// Execute runs the root command, exiting with status 1 on any error cobra
// itself surfaces (flag parsing, unknown subcommand). Exit codes for a
// loop's own termination reason are set explicitly by run/resume.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("repo", ".", "repository root ralph operates against")
	rootCmd.PersistentFlags().String("state-dir", ".ralph", "state directory, relative to --repo")
	rootCmd.PersistentFlags().String("agent-dir", ".agent", "agent directory, relative to --repo")
	rootCmd.PersistentFlags().String("worktree-dir", ".ralph/worktrees", "secondary-loop worktree directory, relative to --repo")
	rootCmd.PersistentFlags().String("config", "ralph.yaml", "hats/topology + engine config file, relative to --repo")
}

// repoPaths is every directory a subcommand needs, resolved from the
// persistent flags. The *Rel fields keep the flag value as given (relative
// to RepoRoot) since a worktree loop re-roots them under its own clone
// rather than under RepoRoot.
type repoPaths struct {
	RepoRoot       string
	StateDir       string
	AgentDir       string
	WorktreeDir    string
	ConfigPath     string
	StateDirRel    string
	AgentDirRel    string
	WorktreeDirRel string
}

// resolvePaths reads --repo/--state-dir/--agent-dir/--worktree-dir/--config
// off cmd and resolves them to absolute paths, the same
// cmd.Flags().GetString idiom every cmd/vc command uses.
func resolvePaths(cmd *cobra.Command) (repoPaths, error) {
	repoFlag, _ := cmd.Flags().GetString("repo")
	stateDirRel, _ := cmd.Flags().GetString("state-dir")
	agentDirRel, _ := cmd.Flags().GetString("agent-dir")
	worktreeDirRel, _ := cmd.Flags().GetString("worktree-dir")
	configRel, _ := cmd.Flags().GetString("config")

	repoRoot, err := filepath.Abs(repoFlag)
	if err != nil {
		return repoPaths{}, fmt.Errorf("resolving --repo: %w", err)
	}

	return repoPaths{
		RepoRoot:       repoRoot,
		StateDir:       filepath.Join(repoRoot, stateDirRel),
		AgentDir:       filepath.Join(repoRoot, agentDirRel),
		WorktreeDir:    filepath.Join(repoRoot, worktreeDirRel),
		ConfigPath:     filepath.Join(repoRoot, configRel),
		StateDirRel:    stateDirRel,
		AgentDirRel:    agentDirRel,
		WorktreeDirRel: worktreeDirRel,
	}, nil
}

// underRepo re-roots a *Rel path under a different repo root — used when a
// loop is assigned to a worktree rather than the primary tree.
func (p repoPaths) underRepo(root string) repoPaths {
	return repoPaths{
		RepoRoot:       root,
		StateDir:       filepath.Join(root, p.StateDirRel),
		AgentDir:       filepath.Join(root, p.AgentDirRel),
		WorktreeDir:    filepath.Join(root, p.WorktreeDirRel),
		ConfigPath:     p.ConfigPath,
		StateDirRel:    p.StateDirRel,
		AgentDirRel:    p.AgentDirRel,
		WorktreeDirRel: p.WorktreeDirRel,
	}
}
