package prompt

import (
	"strings"
	"testing"

	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/hats"
	"github.com/stretchr/testify/assert"
)

func TestBuild_SectionOrder(t *testing.T) {
	out := Build(Context{
		Hats: []hats.Hat{
			{ID: "builder", Name: "Builder", Description: "writes code", TriggersOn: []string{"task.start"}, Instructions: "Focus on small, reviewable diffs."},
		},
		PendingEvents: []events.Event{events.New("task.start", "implement X")},
		Memories:      []string{"prefer table-driven tests"},
		ContextFiles:  []string{"design-notes.md"},
	})

	order := []string{
		"Tenets:",
		"## Task tracking",
		"## State management",
		"## HATS",
		"### Builder Instructions",
		"## PENDING EVENTS",
		"## MEMORIES",
		"## CONTEXT FILES",
		"## Workflow",
		"## Writing events",
		"Emit `LOOP_COMPLETE` when truly done.",
	}

	lastIdx := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		assert.Greaterf(t, idx, lastIdx, "expected %q to appear after the previous section", marker)
		lastIdx = idx
	}
}

func TestBuild_OmitsHatsSectionWhenNoHatsDefined(t *testing.T) {
	out := Build(Context{})
	assert.NotContains(t, out, "## HATS")
}

func TestBuild_OmitsPendingEventsWhenEmpty(t *testing.T) {
	out := Build(Context{})
	assert.NotContains(t, out, "## PENDING EVENTS")
}

func TestBuild_EmptyMemoriesAndContextFilesStillRenderSections(t *testing.T) {
	out := Build(Context{})
	assert.Contains(t, out, "## MEMORIES")
	assert.Contains(t, out, "(none yet)")
	assert.Contains(t, out, "## CONTEXT FILES")
}

func TestBuild_CustomCompletionSentinel(t *testing.T) {
	out := Build(Context{CompletionSentinel: "DONE_FOR_REAL"})
	assert.Contains(t, out, "Emit `DONE_FOR_REAL` when truly done.")
	assert.NotContains(t, out, "LOOP_COMPLETE")
}

func TestBuild_PendingEventRendersObjectPayloadAsJSON(t *testing.T) {
	out := Build(Context{
		PendingEvents: []events.Event{
			events.New("build.done", map[string]interface{}{"files_touched": []interface{}{"a.go"}}),
		},
	})
	assert.Contains(t, out, "`build.done`")
	assert.Contains(t, out, `"files_touched"`)
}

func TestBuild_NoYAMLPayloadMentionedPositively(t *testing.T) {
	out := Build(Context{})
	assert.Contains(t, out, "Do not emit YAML")
}
