package cryptoutil

import "testing"

func TestHashEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"abc123", "abc123", true},
		{"ABC123", "abc123", true},
		{"abc123", "abc124", false},
		{"abc", "abc123", false},
		{"", "", true},
	}
	for _, tt := range tests {
		if got := HashEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("HashEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
