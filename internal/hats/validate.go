package hats

import "fmt"

// Severity is how serious a topology Finding is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is one result of topology validation (spec §4.4's table).
type Finding struct {
	Severity Severity
	Message  string
}

// HasErrors reports whether any finding is an error — callers (startup,
// `ralph hats validate`) treat that as fatal before the loop begins
// (spec §7's "Hat-topology error" row).
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate runs every check in spec §4.4's table against the registry.
func (r *Registry) Validate() []Finding {
	var findings []Finding

	published := r.publishedTopics()

	// starting_event configured with no subscriber -> error.
	if r.startingEvent != "" {
		if _, ok := r.Owner(r.startingEvent); !ok {
			findings = append(findings, Finding{SeverityError,
				fmt.Sprintf("starting_event %q has no subscriber", r.startingEvent)})
		}
	}

	// Hat triggers never published anywhere -> error (unreachable).
	for _, h := range r.ordered {
		for _, trig := range h.TriggersOn {
			if !topicIsPublished(trig, published) && trig != r.startingEvent {
				findings = append(findings, Finding{SeverityError,
					fmt.Sprintf("hat %q trigger %q is never published by any hat or the starting event (unreachable)", h.ID, trig)})
			}
		}
	}

	// Published event has no subscriber and is not the completion signal -> warning.
	for _, topic := range published {
		if topic == r.completionTopic {
			continue
		}
		if isReservedTopic(topic) {
			continue
		}
		if _, ok := r.Owner(topic); !ok {
			findings = append(findings, Finding{SeverityWarning,
				fmt.Sprintf("published topic %q has no subscriber", topic)})
		}
	}

	// Hat that neither publishes nor subscribes -> warning (dead end).
	for _, h := range r.ordered {
		if len(h.TriggersOn) == 0 && len(h.Publishes) == 0 {
			findings = append(findings, Finding{SeverityWarning,
				fmt.Sprintf("hat %q neither publishes nor subscribes to anything (dead end)", h.ID)})
		}
	}

	// Event cycles -> info, never an error (spec §9: cycles are how
	// multi-round workflows function).
	for _, cycle := range r.findCycles() {
		findings = append(findings, Finding{SeverityInfo,
			fmt.Sprintf("cycle: %v", cycle)})
	}

	return findings
}

// reservedTopics are engine-synthesized topics that are never expected to
// have a hat subscriber; flagging them as orphans would be noise.
var reservedTopics = map[string]bool{
	"loop.terminate":   true,
	"event.malformed":  true,
	"build.blocked":    true,
	"task.resume":      true,
}

func isReservedTopic(topic string) bool {
	return reservedTopics[topic]
}

func (r *Registry) publishedTopics() []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range r.ordered {
		for _, p := range h.Publishes {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func topicIsPublished(trigger string, published []string) bool {
	for _, p := range published {
		if trigger == p || triggerCouldMatch(trigger, p) {
			return true
		}
	}
	return false
}

// triggerCouldMatch reports whether a (possibly prefix) trigger could ever
// match a concrete published topic, or vice versa.
func triggerCouldMatch(trigger, published string) bool {
	return matchesPrefixOrExact(trigger, published) || matchesPrefixOrExact(published, trigger)
}

func matchesPrefixOrExact(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if len(filter) > 2 && filter[len(filter)-2:] == ".*" {
		prefix := filter[:len(filter)-1]
		return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
	}
	return false
}

// findCycles returns the hat-ID cycles in the publish->trigger graph: an
// edge from hat A to hat B exists when A publishes a topic B triggers on.
func (r *Registry) findCycles() [][]string {
	adj := make(map[string][]string)
	for _, a := range r.ordered {
		for _, b := range r.ordered {
			if hatPublishesSomethingHatTriggersOn(a, b) {
				adj[a.ID] = append(adj[a.ID], b.ID)
			}
		}
	}

	var cycles [][]string
	visited := map[string]int{} // 0=unvisited,1=in-progress,2=done
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = 1
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch visited[next] {
			case 0:
				visit(next)
			case 1:
				// Found a cycle: the portion of the stack from next's first
				// occurrence onward.
				for i, s := range stack {
					if s == next {
						cycle := append([]string(nil), stack[i:]...)
						cycle = append(cycle, next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		visited[id] = 2
	}

	for _, h := range r.ordered {
		if visited[h.ID] == 0 {
			visit(h.ID)
		}
	}
	return cycles
}

func hatPublishesSomethingHatTriggersOn(a, b Hat) bool {
	for _, pub := range a.Publishes {
		for _, trig := range b.TriggersOn {
			if matchesPrefixOrExact(trig, pub) {
				return true
			}
		}
	}
	return false
}
