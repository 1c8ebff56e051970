package agentrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when AnthropicRunner.Model is empty.
const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicRunner invokes the agent directly via the Anthropic Messages
// API instead of shelling out to a CLI binary. It is an alternative
// AgentRunner collaborator (spec §6), not a core component: the engine
// only ever sees the Runner interface.
type AnthropicRunner struct {
	client    anthropic.Client
	Model     string
	MaxTokens int64
}

// NewAnthropicRunner builds a runner against the given API key.
func NewAnthropicRunner(apiKey string) *AnthropicRunner {
	return &AnthropicRunner{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		Model:     DefaultAnthropicModel,
		MaxTokens: 8192,
	}
}

// Run sends prompt as a single user message and returns the concatenated
// text content as stdout. workdir is accepted to satisfy the Runner
// interface but unused: the direct-API path has no local process, so it
// cannot observe or change a working directory on the agent's behalf.
func (r *AnthropicRunner) Run(ctx context.Context, prompt, workdir string, timeouts Timeouts) (Result, error) {
	if timeouts.Total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeouts.Total)
		defer cancel()
	}

	model := r.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := r.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	start := time.Now()
	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Duration: duration, ExitStatus: -1}, nil
		}
		return Result{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Result{
		Stdout:     text,
		ExitStatus: 0,
		Duration:   duration,
	}, nil
}
