package events

import "strings"

// MatchTopic reports whether topic satisfies filter. A filter of "*" matches
// anything; a filter ending in ".*" matches topic as a dotted prefix
// (following spec §4.1's exact/prefix/any rule); anything else requires an
// exact match.
func MatchTopic(filter, topic string) bool {
	if filter == "*" {
		return true
	}
	if strings.HasSuffix(filter, ".*") {
		prefix := strings.TrimSuffix(filter, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return filter == topic
}

// MatchesAny reports whether topic matches at least one of the filters.
func MatchesAny(filters []string, topic string) bool {
	for _, f := range filters {
		if MatchTopic(f, topic) {
			return true
		}
	}
	return false
}

// PrefixLen returns how many literal characters of filter are matched
// against topic, used by the hat registry to break ties in favor of the
// longest-matching trigger (spec §4.5 step 2). Exact matches win over
// prefixes; "*" has length 0 (weakest).
func PrefixLen(filter, topic string) int {
	if !MatchTopic(filter, topic) {
		return -1
	}
	if filter == "*" {
		return 0
	}
	if strings.HasSuffix(filter, ".*") {
		return len(filter) - 1 // drop the trailing "*", keep the dot
	}
	return len(filter) + 1 // exact match always outranks any prefix
}
