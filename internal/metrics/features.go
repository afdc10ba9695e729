package metrics

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Features holds local text features of a user query. No raw text is kept.
type Features struct {
	Bytes   int
	Runes   int
	Words   int
	Lines   int
	Numbers int
	URLs    int
}

// CountFeatures computes the Features of s.
func CountFeatures(s string) Features {
	words := strings.Fields(s)
	return Features{
		Bytes:   len(s),
		Runes:   utf8.RuneCountInString(s),
		Words:   len(words),
		Lines:   countLines(s),
		Numbers: countNumbers(s),
		URLs:    countURLs(words),
	}
}

// countLines returns 0 for empty strings; otherwise 1 plus the number of '\n' runes.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return 1 + strings.Count(s, "\n")
}

// countNumbers counts maximal digit runs, treating "1,234.5" as one number.
func countNumbers(s string) int {
	n := 0
	in := false
	rs := []rune(s)
	for i, r := range rs {
		switch {
		case unicode.IsDigit(r):
			if !in {
				n++
				in = true
			}
		case in && (r == ',' || r == '.') && i+1 < len(rs) && unicode.IsDigit(rs[i+1]):
		default:
			in = false
		}
	}
	return n
}

func countURLs(words []string) int {
	n := 0
	for _, w := range words {
		lw := strings.ToLower(w)
		if strings.HasPrefix(lw, "http://") || strings.HasPrefix(lw, "https://") {
			n++
		}
	}
	return n
}
