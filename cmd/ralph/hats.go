package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/config"
	"github.com/ralph-run/ralph/internal/hats"
)

var hatsCmd = &cobra.Command{
	Use:   "hats",
	Short: "Inspect the hat topology",
}

var hatsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run topology checks against ralph.yaml (spec §4.4)",
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := loadHatRegistry(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		findings := reg.Validate()
		printFindings(findings)
		if hats.HasErrors(findings) {
			os.Exit(1)
		}
		if len(findings) == 0 {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s no findings\n", green("✓"))
		}
	},
}

var hatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hats",
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := loadHatRegistry(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cyan := color.New(color.FgCyan).SprintFunc()
		for _, h := range reg.Hats() {
			fmt.Printf("%s %s\n", cyan(h.ID), h.Name)
			fmt.Printf("  triggers: %s\n", strings.Join(h.TriggersOn, ", "))
			fmt.Printf("  publishes: %s\n", strings.Join(h.Publishes, ", "))
			if h.Description != "" {
				fmt.Printf("  %s\n", h.Description)
			}
		}
	},
}

var hatsGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the hat topology as Graphviz DOT",
	Long: `graph prints the hat publish/trigger graph as Graphviz DOT text: one
node per hat, one edge per "hat A publishes a topic hat B triggers on"
relationship. Edges that are part of a cycle (spec §9: cycles are how
multi-round workflows function, never an error) are annotated, matching
hats validate's info-level cycle findings rather than a separate check.`,
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := loadHatRegistry(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(renderHatGraph(reg))
	},
}

func init() {
	hatsCmd.AddCommand(hatsValidateCmd)
	hatsCmd.AddCommand(hatsListCmd)
	hatsCmd.AddCommand(hatsGraphCmd)
	rootCmd.AddCommand(hatsCmd)
}

func loadHatRegistry(cmd *cobra.Command) (*hats.Registry, error) {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	reg, err := hats.New(cfg.Hats, cfg.Loop.StartingEvent, cfg.Loop.CompletionTopic)
	if err != nil {
		return nil, fmt.Errorf("building hat registry: %w", err)
	}
	return reg, nil
}

// matchesPrefixOrExact mirrors internal/hats/validate.go's unexported
// helper of the same name: filter matches topic exactly, or filter is a
// "prefix.*" trigger whose prefix is a prefix of topic.
func matchesPrefixOrExact(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasSuffix(filter, ".*") {
		prefix := strings.TrimSuffix(filter, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return false
}

// renderHatGraph builds the DOT source for the hat topology: one edge per
// publish->trigger relationship, cycle edges marked with a dashed style.
func renderHatGraph(reg *hats.Registry) string {
	hatList := reg.Hats()

	type edge struct{ from, to string }
	var edges []edge
	for _, a := range hatList {
		for _, b := range hatList {
			for _, pub := range a.Publishes {
				for _, trig := range b.TriggersOn {
					if matchesPrefixOrExact(trig, pub) {
						edges = append(edges, edge{a.ID, b.ID})
					}
				}
			}
		}
	}

	cycleEdges := map[edge]bool{}
	for _, f := range reg.Validate() {
		// Cycle findings render as "cycle: [a b c a]" (fmt's %v on a
		// []string) — reparse the bracketed ids to mark their edges.
		if !strings.HasPrefix(f.Message, "cycle: ") {
			continue
		}
		ids := strings.Fields(strings.Trim(strings.TrimPrefix(f.Message, "cycle: "), "[]"))
		for i := 0; i+1 < len(ids); i++ {
			cycleEdges[edge{ids[i], ids[i+1]}] = true
		}
	}

	var b strings.Builder
	b.WriteString("digraph ralph_hats {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, h := range hatList {
		label := h.Name
		if label == "" {
			label = h.ID
		}
		fmt.Fprintf(&b, "  %q [label=%q];\n", h.ID, label)
	}
	for _, e := range edges {
		if cycleEdges[e] {
			fmt.Fprintf(&b, "  %q -> %q [style=dashed];\n", e.from, e.to)
		} else {
			fmt.Fprintf(&b, "  %q -> %q;\n", e.from, e.to)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
