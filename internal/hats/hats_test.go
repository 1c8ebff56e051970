package hats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwner_LongestPrefixWinsTiesBrokenByDeclarationOrder(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "generalist", TriggersOn: []string{"*"}, Publishes: []string{"build.done"}},
		{ID: "builder", TriggersOn: []string{"build.*"}, Publishes: []string{"build.done"}},
		{ID: "build-doner", TriggersOn: []string{"build.done"}, Publishes: []string{}},
	}, "task.start", "loop.complete")
	require.NoError(t, err)

	h, ok := reg.Owner("build.done")
	require.True(t, ok)
	assert.Equal(t, "build-doner", h.ID)

	h, ok = reg.Owner("build.failed")
	require.True(t, ok)
	assert.Equal(t, "builder", h.ID)

	h, ok = reg.Owner("task.start")
	require.True(t, ok)
	assert.Equal(t, "generalist", h.ID)
}

func TestNew_RejectsDuplicateHatID(t *testing.T) {
	_, err := New([]Hat{
		{ID: "dup", TriggersOn: []string{"a"}},
		{ID: "dup", TriggersOn: []string{"b"}},
	}, "", "")
	require.Error(t, err)
}

func TestValidate_UnreachableTriggerIsError(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "reviewer", TriggersOn: []string{"code.review"}, Publishes: []string{"review.done"}},
	}, "task.start", "loop.complete")
	require.NoError(t, err)

	findings := reg.Validate()
	assert.True(t, HasErrors(findings))
	assert.Contains(t, findingMessages(findings), `hat "reviewer" trigger "code.review" is never published by any hat or the starting event (unreachable)`)
}

func TestValidate_OrphanPublishIsWarningExceptCompletion(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "builder", TriggersOn: []string{"task.start"}, Publishes: []string{"build.done", "loop.complete"}},
	}, "task.start", "loop.complete")
	require.NoError(t, err)

	findings := reg.Validate()
	msgs := findingMessages(findings)
	assert.Contains(t, msgs, `published topic "build.done" has no subscriber`)
	assert.NotContains(t, msgs, `published topic "loop.complete" has no subscriber`)
}

func TestValidate_DeadEndHatIsWarning(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "idle"},
	}, "", "")
	require.NoError(t, err)

	findings := reg.Validate()
	assert.Contains(t, findingMessages(findings), `hat "idle" neither publishes nor subscribes to anything (dead end)`)
	for _, f := range findings {
		if f.Message == `hat "idle" neither publishes nor subscribes to anything (dead end)` {
			assert.Equal(t, SeverityWarning, f.Severity)
		}
	}
}

func TestValidate_CycleIsInfoNotError(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "a", TriggersOn: []string{"topic.a"}, Publishes: []string{"topic.b"}},
		{ID: "b", TriggersOn: []string{"topic.b"}, Publishes: []string{"topic.a"}},
	}, "topic.a", "loop.complete")
	require.NoError(t, err)

	findings := reg.Validate()
	require.False(t, HasErrors(findings))

	var sawCycle bool
	for _, f := range findings {
		if f.Severity == SeverityInfo {
			sawCycle = true
		}
	}
	assert.True(t, sawCycle)
}

func TestValidate_OrphanStartingEventIsError(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "builder", TriggersOn: []string{"build.request"}, Publishes: []string{}},
	}, "task.start", "")
	require.NoError(t, err)

	findings := reg.Validate()
	assert.Contains(t, findingMessages(findings), `starting_event "task.start" has no subscriber`)
	assert.True(t, HasErrors(findings))
}

func TestValidate_CleanTopologyHasNoFindings(t *testing.T) {
	reg, err := New([]Hat{
		{ID: "builder", TriggersOn: []string{"task.start"}, Publishes: []string{"build.done"}},
		{ID: "reviewer", TriggersOn: []string{"build.done"}, Publishes: []string{"loop.complete"}},
	}, "task.start", "loop.complete")
	require.NoError(t, err)

	findings := reg.Validate()
	assert.Empty(t, findings)
}

func findingMessages(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Message)
	}
	return out
}
