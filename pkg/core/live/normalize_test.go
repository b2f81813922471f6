package live

import "testing"

func TestNormalizeSpace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  hello   world ", "hello world"},
		{"\tone\ntwo\t", "one two"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeSpace(tt.in); got != tt.want {
			t.Fatalf("normalizeSpace(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMeaningful(t *testing.T) {
	tests := []struct {
		norm string
		last string
		want bool
	}{
		{"hello there", "", true},
		{"", "", false},
		{"hello there", "hello there", false},
		{"Hello There", "hello there", false},
		{"um uh hmm", "", false},
		{"um okay then", "", true},
	}
	for _, tt := range tests {
		if got := meaningful(tt.norm, tt.last); got != tt.want {
			t.Fatalf("meaningful(%q, %q)=%v, want %v", tt.norm, tt.last, got, tt.want)
		}
	}
}
