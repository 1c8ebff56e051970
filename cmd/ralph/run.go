package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Start a fresh iteration loop",
	Long: `Start a fresh iteration loop: generate a new run-identity events file,
seed the queue with the starting event carrying prompt (or args joined by a
space), and drive iterations until a termination predicate fires.

If loop.lock is already held by another ralph run, this spawns a secondary
loop in its own git worktree instead of blocking (spec §4.7).

Example:
  $ ralph run "implement the thing described in TASKS.md"`,
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := resolvePaths(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		prompt := strings.Join(args, " ")

		code, err := startLoop(paths, prompt, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(code)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
