package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ralph-run/ralph/internal/agentrunner"
	"github.com/ralph-run/ralph/internal/bus"
	"github.com/ralph-run/ralph/internal/config"
	"github.com/ralph-run/ralph/internal/coordinator"
	"github.com/ralph-run/ralph/internal/engine"
	"github.com/ralph-run/ralph/internal/eventlog"
	"github.com/ralph-run/ralph/internal/hats"
	"github.com/ralph-run/ralph/internal/memory"
	"github.com/ralph-run/ralph/internal/runid"
	"github.com/ralph-run/ralph/internal/session"
)

// reservedAgentFiles are the agent-directory files spec §6 gives a fixed
// meaning to; everything else markdown is a free-form context file listed
// by name in the prompt's CONTEXT FILES section.
var reservedAgentFiles = map[string]bool{
	"scratchpad.md": true,
	"memories.md":   true,
	"summary.md":    true,
}

// startLoop wires every collaborator the iteration engine needs and drives
// it to termination, for both `ralph run` (fresh=true) and `ralph resume`
// (fresh=false). It returns the process exit code spec §6 names.
func startLoop(repoFlags repoPaths, prompt string, fresh bool) (int, error) {
	cfg, err := config.LoadWithEnv(repoFlags.ConfigPath)
	if err != nil {
		return 1, fmt.Errorf("loading config: %w", err)
	}

	hatsReg, err := hats.New(cfg.Hats, cfg.Loop.StartingEvent, cfg.Loop.CompletionTopic)
	if err != nil {
		return 1, fmt.Errorf("building hat registry: %w", err)
	}
	if findings := hatsReg.Validate(); hats.HasErrors(findings) {
		printFindings(findings)
		return 1, fmt.Errorf("hat topology has validation errors")
	} else if len(findings) > 0 {
		printFindings(findings)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := coordinator.New(ctx, coordinator.Paths{
		RepoRoot:    repoFlags.RepoRoot,
		StateDir:    repoFlags.StateDir,
		WorktreeDir: repoFlags.WorktreeDir,
		MemoryFile:  filepath.Join(repoFlags.AgentDir, "memories.md"),
	})
	if err != nil {
		return 1, fmt.Errorf("initializing coordinator: %w", err)
	}

	assignment, err := g.Acquire(ctx, prompt)
	if err != nil {
		return 1, fmt.Errorf("acquiring loop slot: %w", err)
	}

	loopPaths := repoFlags
	if !assignment.Primary {
		loopPaths = repoFlags.underRepo(assignment.Worktree.Dir)
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s loop.lock held, spawned secondary loop %s in %s\n",
			cyan("→"), assignment.Worktree.LoopID, assignment.Worktree.Dir)
	}
	defer func() {
		if assignment.Primary && assignment.Lock != nil {
			_ = assignment.Lock.Release()
		}
	}()

	var eventsPath string
	if fresh {
		eventsPath, err = runid.StartFresh(loopPaths.StateDir, time.Now())
	} else {
		eventsPath, err = runid.Resume(loopPaths.StateDir)
	}
	if err != nil {
		return 1, fmt.Errorf("resolving events file: %w", err)
	}

	logger := eventlog.NewLogger(eventsPath)
	reader := eventlog.NewReader(eventsPath)

	eventBus := bus.New()
	recorderPath := filepath.Join(loopPaths.StateDir, "diagnostics", "session.jsonl")

	maxRuntime, err := cfg.Loop.MaxRuntimeDuration()
	if err != nil {
		return 1, fmt.Errorf("parsing loop.max_runtime: %w", err)
	}
	idleTimeout, err := cfg.Loop.IdleTimeoutDuration()
	if err != nil {
		return 1, fmt.Errorf("parsing loop.idle_timeout: %w", err)
	}
	totalTimeout, err := cfg.Loop.TotalTimeoutDuration()
	if err != nil {
		return 1, fmt.Errorf("parsing loop.total_timeout: %w", err)
	}

	runner, err := buildRunner(cfg.Backend)
	if err != nil {
		return 1, err
	}

	memStore := memory.New(filepath.Join(loopPaths.AgentDir, "memories.md"))
	scratchpadPath := filepath.Join(loopPaths.AgentDir, "scratchpad.md")

	eng := &engine.Engine{
		Config: engine.Config{
			StartingEvent:      cfg.Loop.StartingEvent,
			CompletionSentinel: cfg.Loop.CompletionSentinel,
			MaxIterations:      cfg.Loop.MaxIterations,
			MaxRuntime:         maxRuntime,
			Interactive:        cfg.Loop.Interactive,
		},
		Hats:     hatsReg,
		Bus:      eventBus,
		Logger:   logger,
		Reader:   reader,
		Runner:   runner,
		Workdir:  loopPaths.RepoRoot,
		Timeouts: agentrunner.Timeouts{Idle: idleTimeout, Total: totalTimeout},
		Memories: func() []string {
			entries, err := memStore.Entries()
			if err != nil {
				return nil
			}
			return entries
		},
		ContextFiles: func() []string {
			return contextFileNames(loopPaths.AgentDir)
		},
		ScratchpadRead: func() (string, error) {
			data, err := os.ReadFile(scratchpadPath)
			if os.IsNotExist(err) {
				return "", nil
			}
			return string(data), err
		},
	}

	recorder := session.New(recorderPath, &iterationProvider{eng: eng})
	eventBus.AddRecorder(recorder.Record)
	if err := recorder.LoopStart(); err != nil {
		fmt.Fprintf(os.Stderr, "ralph: failed to write session journal start: %v\n", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		eng.Interrupt()
	}()

	if !fresh {
		pending, err := reader.ReadNew()
		if err != nil {
			return 1, fmt.Errorf("reading existing events for resume: %w", err)
		}
		eng.SeedPending(pending.Events)
	}

	reason, runErr := eng.Run(ctx, prompt)

	if err := recorder.LoopEnd(eng.State().Iteration); err != nil {
		fmt.Fprintf(os.Stderr, "ralph: failed to write session journal end: %v\n", err)
	}

	if runErr != nil {
		return 1, fmt.Errorf("loop %d: %w", eng.State().Iteration, runErr)
	}

	if !assignment.Primary && reason == engine.CompletionPromise {
		if err := g.CompleteLoop(assignment.Worktree); err != nil {
			return 1, fmt.Errorf("enqueueing completed loop for merge: %w", err)
		}
	}

	printTermination(reason, eng.State().Iteration)
	return reason.ExitCode(), nil
}

// iterationProvider adapts *engine.Engine to session.IterationProvider.
type iterationProvider struct {
	eng *engine.Engine
}

func (p *iterationProvider) CurrentIteration() int {
	return p.eng.State().Iteration
}

func (p *iterationProvider) CurrentHat() string {
	if h := p.eng.State().CurrentHat; h != nil {
		return h.ID
	}
	return ""
}

// buildRunner selects an agentrunner.Runner from cfg: a configured command
// shells out (ExecRunner); otherwise, if ANTHROPIC_API_KEY is set, calls
// the Anthropic API directly (AnthropicRunner). Neither discovers a
// backend binary on its own (spec §1's non-goals) — one of the two must be
// explicitly configured.
func buildRunner(cfg config.BackendConfig) (agentrunner.Runner, error) {
	if cfg.Command != "" {
		return agentrunner.NewExecRunner(cfg.Command, cfg.Args...), nil
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("no backend configured: set backend.command in ralph.yaml or ANTHROPIC_API_KEY for the direct Anthropic runner")
	}
	runner := agentrunner.NewAnthropicRunner(apiKey)
	if cfg.Model != "" {
		runner.Model = cfg.Model
	}
	return runner, nil
}

// contextFileNames lists non-reserved .md files directly under agentDir,
// sorted by filename — the prompt builder only ever needs names,
// never contents (spec §4.4).
func contextFileNames(agentDir string) []string {
	entries, err := os.ReadDir(agentDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".md") || reservedAgentFiles[name] {
			continue
		}
		names = append(names, name)
	}
	return names
}

func printFindings(findings []hats.Finding) {
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	for _, f := range findings {
		switch f.Severity {
		case hats.SeverityError:
			fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), f.Message)
		case hats.SeverityWarning:
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), f.Message)
		default:
			fmt.Fprintf(os.Stderr, "%s %s\n", cyan("ℹ"), f.Message)
		}
	}
}

func printTermination(reason engine.TerminationReason, iterations int) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	switch reason {
	case engine.CompletionPromise:
		fmt.Printf("%s loop complete after %d iterations\n", green("✓"), iterations)
	default:
		fmt.Printf("%s loop terminated (%s) after %d iterations\n", yellow("⚠"), reason, iterations)
	}
}
