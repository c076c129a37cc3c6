package concierge

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "What Is Python", "what is python"},
		{"trailing punctuation", "what is python?!.", "what is python"},
		{"whitespace collapse", "  what   is\tpython  ", "what is python"},
		{"fullwidth collapses", "ｗｈａｔ ｉｓ ｐｙｔｈｏｎ", "what is python"},
		{"interior punctuation kept", "what is python 3.12", "what is python 3.12"},
		{"empty", "", ""},
		{"only punctuation", "???", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeEquivalentQueriesShareHash(t *testing.T) {
	_, a := Normalize("  What is  Python? ")
	_, b := Normalize("what is python")
	if a != b {
		t.Errorf("equivalent queries hash differently: %s vs %s", a, b)
	}

	_, c := Normalize("what is go")
	if a == c {
		t.Error("distinct queries must not collide")
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	n1, h1 := Normalize("How many vacation days do I get?")
	n2, h2 := Normalize("How many vacation days do I get?")
	if n1 != n2 || h1 != h2 {
		t.Error("normalization must be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}
