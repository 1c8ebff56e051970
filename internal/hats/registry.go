// Package hats holds the static hat topology (spec §4.4): each hat's
// triggers, publishes, and instructions. Per spec §9 "always hatless
// routing", a matching hat only supplies prompt context — the Ralph agent
// executes every iteration regardless of which hat owns it.
package hats

import (
	"fmt"

	"github.com/ralph-run/ralph/internal/events"
)

// Hat is one role in the topology.
type Hat struct {
	// ID is the stable registry key.
	ID string `yaml:"id"`
	// Name is the display name used in the ## HATS prompt table.
	Name string `yaml:"name"`
	// Description is a one-line summary shown in the prompt table.
	Description string `yaml:"description"`
	// Instructions is optional persona text rendered as its own section
	// when non-empty.
	Instructions string `yaml:"instructions,omitempty"`
	// TriggersOn is the set of topics (exact or "prefix.*") that route an
	// iteration to this hat.
	TriggersOn []string `yaml:"triggers_on"`
	// Publishes is the set of topics this hat is expected to emit.
	Publishes []string `yaml:"publishes"`
	// Backend is an optional per-hat backend override. Retained for config
	// compatibility but never consulted for execution — spec §9 requires
	// every iteration to run on the Ralph agent regardless of hat identity.
	Backend string `yaml:"backend,omitempty"`
}

// Registry is the immutable, validated set of hats for one run.
type Registry struct {
	ordered       []Hat
	byID          map[string]Hat
	startingEvent string
	completionTopic string
}

// New builds a Registry from hats in declaration order. startingEvent is the
// topic seeded into the queue at loop start (spec §4.5); completionTopic, if
// non-empty, names a topic that is exempt from the "orphan publish" warning
// because it is consumed by the termination logic rather than by a hat.
// New returns an error if any hat ID is duplicated (spec §3 Hat invariant).
func New(list []Hat, startingEvent, completionTopic string) (*Registry, error) {
	byID := make(map[string]Hat, len(list))
	for _, h := range list {
		if _, dup := byID[h.ID]; dup {
			return nil, fmt.Errorf("duplicate hat id %q", h.ID)
		}
		byID[h.ID] = h
	}
	return &Registry{
		ordered:         append([]Hat(nil), list...),
		byID:            byID,
		startingEvent:   startingEvent,
		completionTopic: completionTopic,
	}, nil
}

// Hats returns all hats in registry declaration order.
func (r *Registry) Hats() []Hat {
	return append([]Hat(nil), r.ordered...)
}

// Get returns the hat with the given ID.
func (r *Registry) Get(id string) (Hat, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// StartingEvent returns the topic seeded at loop start.
func (r *Registry) StartingEvent() string {
	return r.startingEvent
}

// Owner returns the hat that owns an iteration dispatching the given topic:
// the hat whose TriggersOn has the longest matching prefix, ties broken by
// declaration order (spec §4.5 step 2). ok is false when no hat matches
// (Ralph runs the iteration solo).
func (r *Registry) Owner(topic string) (hat Hat, ok bool) {
	bestLen := -1
	for _, h := range r.ordered {
		for _, trig := range h.TriggersOn {
			if l := events.PrefixLen(trig, topic); l > bestLen {
				bestLen = l
				hat = h
				ok = true
			}
		}
	}
	return hat, ok
}
