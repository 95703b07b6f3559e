// Package workspace implements per-user isolated virtual filesystems: safe
// path resolution, a cached directory-tree view, a searchable entry index,
// bounded asynchronous persistence of activity records, and idle-based
// reclamation of scratch space.
package workspace

import "strings"

// AnonymousScope is the scope identifier used when a raw id sanitizes to
// nothing.
const AnonymousScope = "anonymous"

// agentScopeSeparator joins the parts of an agent-scoped identifier. Encoded
// components never contain '-', so the separator cannot be produced by any
// user or agent id and the two forms stay disjoint.
const agentScopeSeparator = "--"

// ScopeID derives the scope identifier for a user, optionally narrowed to
// one agent. The mapping is deterministic and collision-free: components are
// encoded injectively, the plain form never contains '-', and the agent form
// always does.
func ScopeID(userID, agentID string) string {
	user := encodeID(userID)
	if user == "" {
		user = AnonymousScope
	}
	if agentID == "" {
		return user
	}
	agent := encodeID(agentID)
	if agent == "" {
		agent = AnonymousScope
	}
	return "agent" + agentScopeSeparator + user + agentScopeSeparator + agent
}

// encodeID keeps alphanumerics, escapes '_' as "__" and '-' as "_h", and
// drops everything else. Every '_' in the output starts an escape pair, so
// the encoding is injective on sanitized ids and its output is '-'-free.
func encodeID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_':
			b.WriteString("__")
		case r == '-':
			b.WriteString("_h")
		}
	}
	return b.String()
}
