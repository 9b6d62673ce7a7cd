package utils

import "strings"

// CodeLength is the number of axis positions in a full code.
const CodeLength = 7

// AlphabetSize is the number of legal code characters (0-9, A-Z).
const AlphabetSize = 36

// CharIndex maps a code character to its alphabet slot.
// Lowercase letters are folded; anything else returns -1.
func CharIndex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	}
	return -1
}

// IndexChar is the inverse of CharIndex for the uppercase alphabet.
func IndexChar(i int) byte {
	if i < 10 {
		return byte('0' + i)
	}
	return byte('A' + i - 10)
}

// NormalizeCode trims and uppercases a caller supplied code or prefix.
// ok is false when the input contains anything outside ASCII alphanumerics;
// only ASCII is folded, so the trimmed input is returned untouched then.
func NormalizeCode(s string) (code string, ok bool) {
	code = strings.TrimSpace(s)
	if !IsCodeToken(code) {
		return code, false
	}
	return upperASCII(code), true
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// IsCodeToken reports whether s consists only of legal code characters.
// The empty string is a valid token (it names the root of the code space).
func IsCodeToken(s string) bool {
	for i := 0; i < len(s); i++ {
		if CharIndex(s[i]) < 0 {
			return false
		}
	}
	return true
}

// SplitCodeTokens splits free text attached to a reference entry into
// uppercase code tokens of 1 to 7 characters, dropping everything else.
func SplitCodeTokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r > 127 || CharIndex(byte(r)) < 0
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 1 && len(f) <= CodeLength {
			out = append(out, upperASCII(f))
		}
	}
	return out
}
