package config

import "strings"

// NameFilter decides which collections or indexes a run touches.
// Patterns are literal names or prefixes with a trailing wildcard ("logs_*").
// A non-empty include list is authoritative and overrides the exclude list.
type NameFilter struct {
	Include []string
	Exclude []string
}

// NewNameFilter builds a filter from include and exclude pattern lists.
func NewNameFilter(include, exclude []string) NameFilter {
	return NameFilter{Include: include, Exclude: exclude}
}

// Allows reports whether name passes the filter.
func (f NameFilter) Allows(name string) bool {
	if len(f.Include) > 0 {
		return matchesAny(f.Include, name)
	}
	return !matchesAny(f.Exclude, name)
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if MatchesPattern(p, name) {
			return true
		}
	}
	return false
}

// MatchesPattern matches name against a literal pattern or a trailing-wildcard
// pattern such as "logs_*".
func MatchesPattern(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}
