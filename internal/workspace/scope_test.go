package workspace

import "testing"

func TestScopeID(t *testing.T) {
	cases := []struct {
		user, agent string
		want        string
	}{
		{"alice", "", "alice"},
		{"alice-01_x", "", "alice_h01__x"},
		{"al ice!", "", "alice"},
		{"../../../etc", "", "etc"},
		{"", "", AnonymousScope},
		{"!!!", "", AnonymousScope},
		{"alice", "coder", "agent--alice--coder"},
		{"", "coder", "agent--" + AnonymousScope + "--coder"},
		{"alice", "!!", "agent--alice--" + AnonymousScope},
	}
	for _, c := range cases {
		if got := ScopeID(c.user, c.agent); got != c.want {
			t.Errorf("ScopeID(%q, %q) = %q, want %q", c.user, c.agent, got, c.want)
		}
	}
}

func TestScopeIDDeterministic(t *testing.T) {
	if ScopeID("alice", "coder") != ScopeID("alice", "coder") {
		t.Error("same input produced different scopes")
	}
}

func TestScopeIDDistinctness(t *testing.T) {
	pairs := [][2]string{
		{ScopeID("alice", "coder"), ScopeID("alice", "writer")},
		{ScopeID("alice", "coder"), ScopeID("bob", "coder")},
		{ScopeID("alice", ""), ScopeID("alice", "coder")},
		{ScopeID("alice", ""), ScopeID("bob", "")},
		// A plain user id embedding the separator must not alias an
		// agent-scoped workspace.
		{ScopeID("agent--x--y", ""), ScopeID("x", "y")},
		{ScopeID("a-b", "c"), ScopeID("a", "b-c")},
		{ScopeID("a_b", ""), ScopeID("a-b", "")},
	}
	for _, p := range pairs {
		if p[0] == p[1] {
			t.Errorf("distinct ids collided on %q", p[0])
		}
	}
}
