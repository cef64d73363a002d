package router

import "strings"

// matchPattern reports whether path matches pathPattern, which supports two
// wildcard forms on top of literal matching (spec.md §3's Route group):
//
//	prefix/**   matches prefix itself, or any path with prefix as an
//	            ancestor (any number of further segments).
//	prefix/*    matches exactly one more path segment after prefix.
func matchPattern(pattern, path string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		rest := strings.TrimPrefix(path, prefix+"/")
		if rest == path { // prefix/ was not actually a prefix of path
			return false
		}
		return !strings.Contains(rest, "/")
	default:
		return pattern == path
	}
}

// segments splits a URL path into its non-empty components. Nothing in the
// package calls it; matchPattern works on string prefixes instead.
func segments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
