package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [prompt]",
	Short: "Continue a loop from the current-events marker",
	Long: `Resume reads the current-events marker instead of generating a new
run-identity events file, ingests whatever events are already on disk, and
continues iterating from there. If no marker exists, it reads and appends
to the default events path instead (spec §6/§7).

A prompt argument is accepted but not used: unlike run, resume does not
publish a fresh starting event, so the loop continues only from the events
already on disk.`,
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := resolvePaths(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		prompt := strings.Join(args, " ")

		code, err := startLoop(paths, prompt, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(code)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
