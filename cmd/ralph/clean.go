package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the state and agent directories",
	Long: `clean removes <state-dir> and <agent-dir> entirely (spec §6). Without
--force it refuses when <state-dir>/loop.lock exists; the check looks only
for the file, which stays on disk after a loop releases its lock. It runs
no git command, so worktrees registered with git are not unregistered.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runClean(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	cleanCmd.Flags().Bool("force", false, "remove directories even if a loop.lock appears to be held")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command) error {
	force, _ := cmd.Flags().GetBool("force")
	paths, err := resolvePaths(cmd)
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(filepath.Join(paths.StateDir, "loop.lock")); err == nil {
			return fmt.Errorf("loop.lock exists under %s; pass --force if you are sure no loop is running", paths.StateDir)
		}
	}

	green := color.New(color.FgGreen).SprintFunc()
	for _, dir := range []string{paths.StateDir, paths.AgentDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
		fmt.Printf("%s removed %s\n", green("✓"), dir)
	}
	return nil
}
