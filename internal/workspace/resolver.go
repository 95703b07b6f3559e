package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Path resolution errors. All of them match ErrPathSecurity via errors.Is,
// so callers can treat the whole family as a client error.
var (
	ErrPathSecurity     = errors.New("path security violation")
	ErrParentTraversal  = fmt.Errorf("%w: parent traversal not allowed", ErrPathSecurity)
	ErrIllegalChars     = fmt.Errorf("%w: illegal characters in path", ErrPathSecurity)
	ErrAbsoluteRejected = fmt.Errorf("%w: absolute path outside workspace", ErrPathSecurity)
	ErrOutOfBounds      = fmt.Errorf("%w: resolved path escapes workspace", ErrPathSecurity)
)

// PublicRootBase is the display-path prefix under which workspaces are shown
// to the outside world.
const PublicRootBase = "/workspaces"

// Characters rejected on common filesystems before any joining happens.
var illegalPathChars = regexp.MustCompile(`[\\:*?"<>|]`)

// PublicRoot returns the public alias for a scope's workspace root.
func PublicRoot(scope string) string {
	return PublicRootBase + "/" + scope
}

// ResolvePath maps a workspace-relative path to an absolute path confined to
// root. Empty, "." and "/"-only input normalize to root. Any ".." component
// is rejected outright, even one that would stay in bounds after cleaning.
// Absolute input is accepted only when it already lies under root, or under
// the public alias root, which is rewritten back to root.
func ResolvePath(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	rel = strings.TrimSpace(rel)

	if rel == "" || rel == "." || strings.Trim(rel, "/") == "" {
		return cleanRoot, nil
	}
	if illegalPathChars.MatchString(rel) {
		return "", ErrIllegalChars
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return "", ErrParentTraversal
		}
	}

	if strings.HasPrefix(rel, "/") {
		p := filepath.Clean(rel)
		if p == cleanRoot || strings.HasPrefix(p, cleanRoot+string(filepath.Separator)) {
			return p, nil
		}
		alias := PublicRoot(filepath.Base(cleanRoot))
		if p == alias {
			return cleanRoot, nil
		}
		if strings.HasPrefix(p, alias+"/") {
			return insideRoot(cleanRoot, filepath.Join(cleanRoot, p[len(alias)+1:]))
		}
		return "", ErrAbsoluteRejected
	}

	return insideRoot(cleanRoot, filepath.Join(cleanRoot, filepath.FromSlash(rel)))
}

// insideRoot is the post-join bounds check. The component-level ".." check
// already rejects naive traversal; this defends against normalization
// surprises.
func insideRoot(root, joined string) (string, error) {
	if joined == root || strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return joined, nil
	}
	return "", ErrOutOfBounds
}

// DisplayPath maps an absolute in-workspace path to its public alias for
// presentation. Paths outside root are returned unchanged.
func DisplayPath(root, scope, abs string) string {
	cleanRoot := filepath.Clean(root)
	abs = filepath.Clean(abs)
	if abs == cleanRoot {
		return PublicRoot(scope)
	}
	if strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return PublicRoot(scope) + filepath.ToSlash(abs[len(cleanRoot):])
	}
	return abs
}

// ReplacePublicRoot substitutes literal occurrences of the scope's public
// alias inside free text (tool output, rendered messages) with the real
// root, for text that embeds paths without going through ResolvePath.
func ReplacePublicRoot(text, scope, root string) string {
	return strings.ReplaceAll(text, PublicRoot(scope), filepath.Clean(root))
}

// RelPath returns the workspace-relative, forward-slash form of abs. The
// root itself maps to ".".
func RelPath(root, abs string) string {
	cleanRoot := filepath.Clean(root)
	abs = filepath.Clean(abs)
	if abs == cleanRoot {
		return "."
	}
	if strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return filepath.ToSlash(abs[len(cleanRoot)+1:])
	}
	return filepath.ToSlash(abs)
}
