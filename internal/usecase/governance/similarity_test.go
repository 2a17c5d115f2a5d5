package governance

import (
	"math"
	"testing"
)

func TestComputeSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"the quick fox", "the quick fox", 1},
		{"a", "b", 0},
		{"", "anything", 0},
		{"!!!", "???", 0},
		{"Let's proceed", "Let's proceed.", 1},
		{"The Quick fox", "the quick, FOX!", 1},
		{"a b c d", "a b", 0.5},
		{"alpha beta", "beta gamma", 1.0 / 3.0},
	}
	for _, tt := range tests {
		got := ComputeSimilarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ComputeSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("  Hello, World!  it's   fine ")
	want := []string{"hello", "world", "its", "fine"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDetectsLoop(t *testing.T) {
	tests := []struct {
		name    string
		history []string
		next    string
		window  int
		want    bool
	}{
		{"four identical", []string{"plan", "plan", "plan"}, "plan", 4, true},
		{"three identical then different", []string{"plan", "plan", "plan"}, "report", 4, false},
		{"different in window", []string{"plan", "report", "plan"}, "plan", 4, false},
		{"only window tail counts", []string{"report", "plan", "plan", "plan"}, "plan", 4, true},
		{"history too short", []string{"plan", "plan"}, "plan", 4, false},
		{"window one", []string{"plan", "plan", "plan"}, "plan", 1, false},
		{"window zero", []string{"plan"}, "plan", 0, false},
		{"window two", []string{"x"}, "x", 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectsLoop(tt.history, tt.next, tt.window); got != tt.want {
				t.Errorf("DetectsLoop = %v, want %v", got, tt.want)
			}
		})
	}
}

// FuzzComputeSimilarity verifies the measure is symmetric and bounded.
func FuzzComputeSimilarity(f *testing.F) {
	f.Add("the quick fox", "the quick fox")
	f.Add("a", "b")
	f.Add("", "")
	f.Add("Let's proceed", "let's PROCEED.")
	f.Add("unicode: 你好 世界", "世界")

	f.Fuzz(func(t *testing.T, a, b string) {
		ab := ComputeSimilarity(a, b)
		ba := ComputeSimilarity(b, a)
		if ab != ba {
			t.Errorf("asymmetric: sim(a,b)=%v sim(b,a)=%v", ab, ba)
		}
		if ab < 0 || ab > 1 || math.IsNaN(ab) {
			t.Errorf("out of range: %v", ab)
		}
	})
}
