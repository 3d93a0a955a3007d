package provider

import "strings"

// StripFences removes surrounding markdown code fences that generators
// tend to wrap their output in, including a language tag on the opening
// fence line.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{}()") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// StripBackticks removes every backtick; used for generated shell
// commands, which must be raw.
func StripBackticks(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "`", ""))
}
