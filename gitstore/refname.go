package gitstore

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EscapeRefComponent makes an arbitrary state name safe to use as a single
// path component of a git ref, escaping one state name at a time since
// state names never contain a caller-meaningful "/".
//
// https://git.kernel.org/cgit/git/git.git/tree/refs.c?h=v2.9.0-37-g6d523a3#n34
func EscapeRefComponent(name string) string {
	out := ""
	dots := 0
	s := name
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)

		if r == '.' {
			dots++
			s = s[size:]
			continue
		}
		if dots != 0 {
			out += strings.Repeat(escapeByte('.'), dots-1)
			out += "."
			dots = 0
		}

		piece := s[:size]
		if shouldEscape(r) {
			piece = escapeBytes(piece)
		}
		out += piece
		s = s[size:]
	}
	if dots != 0 {
		out += strings.Repeat(escapeByte('.'), dots-1)
		out += "."
	}

	if len(out) > 0 {
		if out[0] == '.' {
			out = escapeByte('.') + out[1:]
		}
		if strings.HasSuffix(out, ".lock") {
			out = out[:len(out)-5] + escapeByte('.') + "lock"
		}
	}
	return out
}

func shouldEscape(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsControl(r) {
		return true
	}
	switch r {
	case ':', '?', '[', '\\', '^', '~', '*', '@', '%', utf8.RuneError:
		return true
	}
	return false
}

func escapeBytes(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&out, "%%%02X", s[i])
	}
	return out.String()
}

func escapeByte(b byte) string {
	return fmt.Sprintf("%%%02X", b)
}

// UnescapeRefComponent reverses EscapeRefComponent. Decoding is permissive:
// any %XX byte pair is accepted, not only the specific cases the encoder
// produces.
func UnescapeRefComponent(s string) (string, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
			if i+2 >= len(s) {
				return "", fmt.Errorf("gitstore: %q: invalid escape format", s)
			}
			b, err := hex.DecodeString(s[i+1 : i+3])
			if err != nil {
				return "", fmt.Errorf("gitstore: %q: invalid escape format", s)
			}
			c = b[0]
			i += 2
		}
		out = append(out, c)
	}
	return string(out), nil
}
