package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/eventlog"
	"github.com/ralph-run/ralph/internal/runid"
)

var emitCmd = &cobra.Command{
	Use:   "emit <topic> [payload]",
	Short: "Append one event to the active events file",
	Long: `emit is the external collaborator spec §6 names: it reads the
current-events marker, appends exactly one properly escaped JSON object, and
creates the state directory if it does not exist yet.

With --json, payload is parsed and validated as JSON before being written
(any valid JSON value is written decoded; invalid JSON is rejected); without
it, payload is written verbatim as a string. --ts overrides the auto-generated
timestamp (RFC3339 or milliseconds since epoch); --file reads payload from a
file instead of the argument.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runEmit(cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	emitCmd.Flags().Bool("json", false, "parse and validate payload as JSON before writing")
	emitCmd.Flags().String("ts", "", "override the event timestamp (RFC3339 or epoch millis)")
	emitCmd.Flags().String("file", "", "read payload from this file instead of the argument")
	emitCmd.Flags().String("source", "", "optional source hat/component name")
	emitCmd.Flags().String("target", "", "optional target hat, overriding trigger-based routing")
	rootCmd.AddCommand(emitCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	tsFlag, _ := cmd.Flags().GetString("ts")
	fileFlag, _ := cmd.Flags().GetString("file")
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")

	topic := args[0]
	var rawPayload string
	switch {
	case fileFlag != "":
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return fmt.Errorf("reading --file %s: %w", fileFlag, err)
		}
		rawPayload = string(data)
	case len(args) == 2:
		rawPayload = args[1]
	}

	var payload interface{} = rawPayload
	if asJSON && rawPayload != "" {
		var decoded interface{}
		if err := json.Unmarshal([]byte(rawPayload), &decoded); err != nil {
			return fmt.Errorf("--json payload is not valid JSON: %w", err)
		}
		payload = decoded
	}

	ev := events.Event{Topic: topic, Payload: payload, Source: source, Target: target}
	if tsFlag != "" {
		ts, err := parseTimestampFlag(tsFlag)
		if err != nil {
			return fmt.Errorf("--ts: %w", err)
		}
		ev.Time = ts
	}

	paths, err := resolvePaths(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	eventsPath, err := runid.CurrentEventsPath(paths.StateDir)
	if err != nil {
		return fmt.Errorf("resolving current-events marker: %w", err)
	}

	if err := eventlog.NewLogger(eventsPath).PublishRecord(ev); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// parseTimestampFlag accepts the same two wire shapes spec §6's events
// format does: an RFC3339 string, or milliseconds since the epoch.
func parseTimestampFlag(s string) (time.Time, error) {
	if millis, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(millis), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid RFC3339 timestamp or epoch-millis integer: %w", err)
	}
	return t, nil
}
