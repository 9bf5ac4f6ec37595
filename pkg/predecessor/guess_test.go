package predecessor

import (
	"math/rand"
	"testing"
	"unicode/utf8"
)

func TestGuessPreviousWithoutLower(t *testing.T) {
	tests := []struct {
		upper string
		want  string
		ok    bool
	}{
		{"", "", false},
		{"\x00", "", true},
		{"\x01", "\x00", true},
		{"c", "1", true},
		{"cat", "ca", true},
		{"ca", "c", true},
		{"日本", "日", true},
		{"\uE000", "\u6C00", true},
	}
	for _, tt := range tests {
		got, ok := GuessPrevious(tt.upper, "", false)
		if ok != tt.ok || got != tt.want {
			t.Errorf("GuessPrevious(%q) = %q, %v; want %q, %v", tt.upper, got, ok, tt.want, tt.ok)
		}
	}
}

func TestGuessPreviousBetween(t *testing.T) {
	tests := []struct {
		name  string
		upper string
		lower string
		want  string
		ok    bool
	}{
		{"midpoint", "e", "a", "c", true},
		{"shared prefix", "cat", "cap", "car", true},
		{"adjacent carries", "b", "a", "a" + string(fromOrdinal(maxOrdinal/2)), true},
		{"lower prefix of upper", "cat", "ca", "ca:", true},
		{"zero rune tail", "a\x00\x00", "a", "a\x00", true},
		{"nothing between", "a\x00", "a", "", false},
		{"equal bounds", "cat", "cat", "", false},
		{"inverted bounds", "ant", "bee", "", false},
		{"empty upper", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GuessPrevious(tt.upper, tt.lower, true)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tt.ok, got)
			}
			if ok && got != tt.want {
				t.Errorf("GuessPrevious(%q, %q) = %q, want %q", tt.upper, tt.lower, got, tt.want)
			}
		})
	}
}

func TestGuessPreviousCarryPastMaxRune(t *testing.T) {
	lower := "a" + string(rune(0x10FFFF)) + "x"
	got, ok := GuessPrevious("b", lower, true)
	if !ok {
		t.Fatalf("expected a candidate between %q and %q", lower, "b")
	}
	if !(lower < got && got < "b") {
		t.Errorf("candidate %q not strictly between %q and %q", got, lower, "b")
	}
}

func TestOrdinalSkipsSurrogates(t *testing.T) {
	if ordinal(0xE000) != ordinal(0xD7FF)+1 {
		t.Errorf("ordinals not contiguous across the surrogate block")
	}
	if fromOrdinal(ordinal(0xE000)) != 0xE000 {
		t.Errorf("round trip through ordinal space failed")
	}
	if fromOrdinal(maxOrdinal) != utf8.MaxRune {
		t.Errorf("maxOrdinal maps to %U, want %U", fromOrdinal(maxOrdinal), utf8.MaxRune)
	}
}

var guessAlphabet = []rune{0, 1, 'a', 'b', 'c', 'z', 'é', 0xD7FF, 0xE000, 0xFFFF, 0x10000, utf8.MaxRune}

func randomKey(rng *rand.Rand, maxLen int) string {
	n := rng.Intn(maxLen + 1)
	rs := make([]rune, n)
	for i := range rs {
		if rng.Intn(4) == 0 {
			r := rune(rng.Intn(utf8.MaxRune + 1))
			if r >= 0xD800 && r <= 0xDFFF {
				r = 'q'
			}
			rs[i] = r
			continue
		}
		rs[i] = guessAlphabet[rng.Intn(len(guessAlphabet))]
	}
	return string(rs)
}

func TestGuessPreviousBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		upper := randomKey(rng, 5)
		got, ok := GuessPrevious(upper, "", false)
		if upper == "" {
			if ok {
				t.Fatalf("candidate %q below the empty string", got)
			}
			continue
		}
		if !ok || got >= upper || !utf8.ValidString(got) {
			t.Fatalf("GuessPrevious(%q) = %q, %v", upper, got, ok)
		}
	}

	for i := 0; i < 20000; i++ {
		a, b := randomKey(rng, 5), randomKey(rng, 5)
		lower, upper := a, b
		if lower > upper {
			lower, upper = upper, lower
		}
		got, ok := GuessPrevious(upper, lower, true)
		if !ok {
			continue
		}
		if !(lower < got && got < upper) {
			t.Fatalf("GuessPrevious(%q, %q) = %q, not strictly between", upper, lower, got)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("GuessPrevious(%q, %q) produced invalid UTF-8", upper, lower)
		}
	}
}
