package events

import "testing"

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"*", "anything.here", true},
		{"build.*", "build.done", true},
		{"build.*", "buildx.done", false},
		{"build.done", "build.done", true},
		{"build.done", "build.blocked", false},
	}
	for _, c := range cases {
		if got := MatchTopic(c.filter, c.topic); got != c.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}

func TestPrefixLen_ExactBeatsPrefix(t *testing.T) {
	exact := PrefixLen("build.done", "build.done")
	prefix := PrefixLen("build.*", "build.done")
	any := PrefixLen("*", "build.done")
	if !(exact > prefix && prefix > any) {
		t.Errorf("expected exact(%d) > prefix(%d) > any(%d)", exact, prefix, any)
	}
}

func TestPrefixLen_NoMatch(t *testing.T) {
	if PrefixLen("task.*", "build.done") != -1 {
		t.Errorf("expected no match to return -1")
	}
}
