// Package namespace implements the bidirectional mapping between a child
// MCP server's own identifiers and the globally unique identifiers the
// gateway exposes in its merged catalogue.
package namespace

import "strings"

// Separator joins a child name and its original identifier.
const Separator = "__"

// Encode builds the namespaced identifier "server__name" for a tool,
// resource URI, or prompt name owned by the given child.
func Encode(server, name string) string {
	return server + Separator + name
}

// Decode returns the child name prefix of a namespaced identifier, i.e.
// everything before the first occurrence of Separator. It returns
// ("", false) if s carries no separator or the prefix is empty.
func Decode(s string) (server string, ok bool) {
	idx := strings.Index(s, Separator)
	if idx <= 0 {
		return "", false
	}
	return s[:idx], true
}

// Strip returns the original identifier for a namespaced string known to
// belong to server, i.e. everything after the first "server__" prefix.
// Strip is the left inverse of Encode: for any name (including one that
// itself contains "__"), Strip(server, Encode(server, name)) == name.
func Strip(server, s string) string {
	prefix := server + Separator
	return strings.TrimPrefix(s, prefix)
}
