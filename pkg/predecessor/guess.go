package predecessor

import "unicode"

// Candidates are built over Unicode scalar values mapped onto a dense
// ordinal space without the surrogate block, so every candidate is valid
// UTF-8 and ordinal order matches string order.
const (
	surrogateMin  = 0xD800
	surrogateMax  = 0xDFFF
	surrogateSpan = surrogateMax - surrogateMin + 1

	maxOrdinal = unicode.MaxRune - surrogateSpan
)

func ordinal(r rune) int32 {
	if r > surrogateMax {
		return r - surrogateSpan
	}
	return r
}

func fromOrdinal(o int32) rune {
	if o >= surrogateMin {
		return o + surrogateSpan
	}
	return o
}

// GuessPrevious proposes a key strictly below upper, and strictly above
// lower when hasLower is set. It reports false when no such key exists or
// the bounds are inconsistent.
//
// Without a lower bound, a single-rune upper has its ordinal halved (with
// ordinal zero yielding the empty string) and a longer upper loses its last
// rune. With a lower bound the result is the midpoint of the two keys at
// their first differing rune.
func GuessPrevious(upper, lower string, hasLower bool) (string, bool) {
	if !hasLower {
		return guessWithoutLower(upper)
	}
	if lower >= upper {
		return "", false
	}
	return guessBetween([]rune(upper), []rune(lower))
}

func guessWithoutLower(upper string) (string, bool) {
	u := []rune(upper)
	switch len(u) {
	case 0:
		return "", false
	case 1:
		o := ordinal(u[0])
		if o == 0 {
			return "", true
		}
		return string(fromOrdinal(o / 2)), true
	default:
		return string(u[:len(u)-1]), true
	}
}

func guessBetween(u, l []rune) (string, bool) {
	out := make([]rune, 0, len(l)+1)
	carry := false

	for i := 0; ; i++ {
		if carry {
			// out already sorts below upper; it only has to pass lower
			if i >= len(l) {
				return string(append(out, fromOrdinal(maxOrdinal/2))), true
			}
			lo := ordinal(l[i])
			if lo < maxOrdinal {
				return string(append(out, fromOrdinal(lo+(maxOrdinal-lo+1)/2))), true
			}
			out = append(out, l[i])
			continue
		}

		if i >= len(u) {
			return "", false
		}
		if i >= len(l) {
			// lower is a proper prefix of upper
			hi := ordinal(u[i])
			if hi > 0 {
				return string(append(out, fromOrdinal(hi/2))), true
			}
			out = append(out, u[i])
			if i+1 < len(u) {
				return string(out), true
			}
			return "", false
		}

		lo, hi := ordinal(l[i]), ordinal(u[i])
		switch {
		case lo == hi:
			out = append(out, l[i])
		case lo > hi:
			return "", false
		default:
			if mid := lo + (hi-lo)/2; mid > lo {
				return string(append(out, fromOrdinal(mid))), true
			}
			out = append(out, l[i])
			carry = true
		}
	}
}
