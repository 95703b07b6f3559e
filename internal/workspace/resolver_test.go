package workspace

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestResolvePathNormalizesToRoot(t *testing.T) {
	root := "/data/workspaces/u1"
	for _, rel := range []string{"", ".", "/", "//", "   "} {
		got, err := ResolvePath(root, rel)
		if err != nil {
			t.Fatalf("ResolvePath(%q) error: %v", rel, err)
		}
		if got != root {
			t.Errorf("ResolvePath(%q) = %q, want root", rel, got)
		}
	}
}

func TestResolvePathRejectsParentTraversal(t *testing.T) {
	root := "/data/workspaces/u1"
	cases := []string{
		"..",
		"../etc/passwd",
		"a/../../etc/passwd",
		"a/..",
		// Would stay in bounds after cleaning, rejected anyway.
		"a/../b",
		"notes/../notes/todo.txt",
	}
	for _, rel := range cases {
		_, err := ResolvePath(root, rel)
		if !errors.Is(err, ErrParentTraversal) {
			t.Errorf("ResolvePath(%q) = %v, want ErrParentTraversal", rel, err)
		}
		if !errors.Is(err, ErrPathSecurity) {
			t.Errorf("ResolvePath(%q) does not match ErrPathSecurity", rel)
		}
	}
}

func TestResolvePathRejectsIllegalChars(t *testing.T) {
	root := "/data/workspaces/u1"
	for _, rel := range []string{`a\b`, "a:b", "a*b", "a?b", `a"b`, "a<b", "a>b", "a|b"} {
		_, err := ResolvePath(root, rel)
		if !errors.Is(err, ErrIllegalChars) {
			t.Errorf("ResolvePath(%q) = %v, want ErrIllegalChars", rel, err)
		}
	}
}

func TestResolvePathRelative(t *testing.T) {
	root := "/data/workspaces/u1"
	got, err := ResolvePath(root, "notes/todo.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(root, "notes", "todo.txt")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolvePathAbsolute(t *testing.T) {
	root := "/data/workspaces/u1"

	// Already under root: accepted.
	got, err := ResolvePath(root, root+"/a/b.txt")
	if err != nil || got != root+"/a/b.txt" {
		t.Errorf("in-root absolute = %q, %v", got, err)
	}

	// Under the public alias: rewritten to root.
	got, err = ResolvePath(root, "/workspaces/u1/a/b.txt")
	if err != nil || got != root+"/a/b.txt" {
		t.Errorf("alias absolute = %q, %v", got, err)
	}
	got, err = ResolvePath(root, "/workspaces/u1")
	if err != nil || got != root {
		t.Errorf("alias root = %q, %v", got, err)
	}

	// Anything else: rejected.
	for _, rel := range []string{"/etc/passwd", "/data/workspaces/u2/file", "/workspaces/u2/file"} {
		if _, err := ResolvePath(root, rel); !errors.Is(err, ErrAbsoluteRejected) {
			t.Errorf("ResolvePath(%q) = %v, want ErrAbsoluteRejected", rel, err)
		}
	}
}

func TestDisplayPathRoundTrip(t *testing.T) {
	root := "/data/workspaces/u1"
	for _, rel := range []string{"notes/todo.txt", "a/b/c.txt", ""} {
		abs, err := ResolvePath(root, rel)
		if err != nil {
			t.Fatalf("resolve %q: %v", rel, err)
		}
		display := DisplayPath(root, "u1", abs)

		back, err := ResolvePath(root, display)
		if err != nil {
			t.Fatalf("resolve display %q: %v", display, err)
		}
		if back != abs {
			t.Errorf("round trip %q: %q != %q", rel, back, abs)
		}
	}
}

func TestDisplayPathOutsideRootUnchanged(t *testing.T) {
	if got := DisplayPath("/data/workspaces/u1", "u1", "/etc/passwd"); got != "/etc/passwd" {
		t.Errorf("outside path rewritten to %q", got)
	}
}

func TestReplacePublicRoot(t *testing.T) {
	text := "wrote /workspaces/u1/out.txt and /workspaces/u1/logs/run.log"
	got := ReplacePublicRoot(text, "u1", "/data/workspaces/u1")
	want := "wrote /data/workspaces/u1/out.txt and /data/workspaces/u1/logs/run.log"
	if got != want {
		t.Errorf("got %q", got)
	}

	// Other scopes' aliases are untouched.
	text = "see /workspaces/u2/file"
	if got := ReplacePublicRoot(text, "u1", "/data/workspaces/u1"); got != text {
		t.Errorf("foreign alias rewritten: %q", got)
	}
}

func TestRelPath(t *testing.T) {
	root := "/data/workspaces/u1"
	if got := RelPath(root, root); got != "." {
		t.Errorf("root rel = %q", got)
	}
	if got := RelPath(root, root+"/a/b.txt"); got != "a/b.txt" {
		t.Errorf("rel = %q", got)
	}
}
