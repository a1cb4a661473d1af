package render

import (
	"strings"
	"unicode/utf8"
)

// SafeText flattens whitespace, splits any token longer than maxToken runes
// so line breaking can always find a break point, and clips the result to
// maxLen runes (0 means no clip).
func SafeText(s string, maxToken, maxLen int) string {
	fields := strings.Fields(s)
	if maxToken > 0 {
		for i, tok := range fields {
			if utf8.RuneCountInString(tok) > maxToken {
				fields[i] = chunk(tok, maxToken)
			}
		}
	}
	out := strings.Join(fields, " ")
	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		r := []rune(out)
		out = string(r[:maxLen-3]) + "..."
	}
	return out
}

func chunk(tok string, size int) string {
	r := []rune(tok)
	parts := make([]string, 0, len(r)/size+1)
	for start := 0; start < len(r); start += size {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		parts = append(parts, string(r[start:end]))
	}
	return strings.Join(parts, " ")
}
