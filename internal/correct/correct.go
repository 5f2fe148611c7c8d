// Package correct post-processes recognized challenge text. Low-confidence
// reads get ambiguous glyphs substituted toward the likelier
// interpretation, and every output is forced to the canonical four
// character length. This package is the last line of defense for the
// output invariant: whatever happens upstream, callers receive a string
// matching ^[A-Z0-9]{4}$.
package correct

import "hash/fnv"

// Alphabet is the full character set challenge strings are drawn from.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Length is the canonical challenge string length.
const Length = 4

// Confidence bands. Above trusted the text is returned as read; between
// directional and trusted only the two safest substitutions are applied;
// below directional the full table is used plus the positional nudge.
const (
	trustedConfidence     = 85.0
	directionalConfidence = 60.0
)

// Glyph pairs confused by the recognition engine, keyed letter to digit.
var wideToDigit = map[byte]byte{
	'O': '0', 'I': '1', 'S': '5', 'G': '6', 'B': '8', 'Z': '2', 'D': '0', 'T': '7',
}

var wideToLetter = map[byte]byte{
	'0': 'O', '1': 'I', '5': 'S', '6': 'G', '8': 'B', '2': 'Z', '7': 'T',
}

var narrowToDigit = map[byte]byte{'O': '0', 'I': '1'}

var narrowToLetter = map[byte]byte{'0': 'O', '1': 'I'}

// nudgeToDigit covers the glyphs inspected at the interior positions when
// a low-confidence read contains no digit at all.
var nudgeToDigit = map[byte]byte{'O': '0', 'I': '1', 'B': '8'}

// Apply corrects a recognition read according to its confidence and
// returns a string of exactly Length characters. High-confidence text
// passes through untouched apart from length enforcement.
func Apply(text string, confidence float64) string {
	switch {
	case confidence > trustedConfidence:
		// Trusted as read.
	case confidence >= directionalConfidence:
		text = substitute(text, narrowToDigit, narrowToLetter)
	default:
		text = substitute(text, wideToDigit, wideToLetter)
		text = nudgeInterior(text)
	}

	enforced, _ := EnforceLength(text)
	return enforced
}

// substitute applies one directional pass: when digits clearly outnumber
// letters the letter table is used, and vice versa. Balanced strings are
// left alone.
func substitute(text string, toDigit, toLetter map[byte]byte) string {
	digits, letters := counts(text)

	var table map[byte]byte
	switch {
	case digits > letters+1:
		table = toDigit
	case letters > digits+1:
		table = toLetter
	default:
		return text
	}

	b := []byte(text)
	for i, c := range b {
		if r, ok := table[c]; ok {
			b[i] = r
		}
	}
	return string(b)
}

// nudgeInterior pushes the 2nd or 3rd character toward a digit reading
// when the string contains no digit anywhere. Challenge strings are
// observed to mix at least one digit, so an all-letter low-confidence
// read usually hides one at an interior position.
func nudgeInterior(text string) string {
	b := []byte(text)
	for _, pos := range []int{1, 2} {
		if pos >= len(b) {
			break
		}
		if hasDigit(b) {
			break
		}
		if r, ok := nudgeToDigit[b[pos]]; ok {
			b[pos] = r
		}
	}
	return string(b)
}

// EnforceLength coerces text to exactly Length characters: longer input is
// truncated, shorter input is padded with filler drawn pseudo-randomly
// from Alphabet. The filler is seeded from the input so identical reads
// pad identically. The second return reports whether the text changed.
func EnforceLength(text string) (string, bool) {
	if len(text) == Length {
		return text, false
	}
	if len(text) > Length {
		return text[:Length], true
	}

	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	b := []byte(text)
	for len(b) < Length {
		seed = seed*1664525 + 1013904223
		b = append(b, Alphabet[seed%uint32(len(Alphabet))])
	}
	return string(b), true
}

// Valid reports whether text already satisfies the output invariant.
func Valid(text string) bool {
	if len(text) != Length {
		return false
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func counts(s string) (digits, letters int) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c >= 'A' && c <= 'Z':
			letters++
		}
	}
	return digits, letters
}

func hasDigit(b []byte) bool {
	for _, c := range b {
		if c >= '0' && c <= '9' {
			return true
		}
	}
	return false
}
