package ranker

import (
	"strings"
	"unicode"
)

// SnippetLen is the maximum snippet length in runes.
const SnippetLen = 200

// Snippet extracts up to SnippetLen runes of body around the first
// case-insensitive occurrence of query, trimmed to word boundaries when
// that does not cut the match. Without a match it returns the start of
// the body.
func Snippet(body, query string) string {
	runes := []rune(body)
	if len(runes) == 0 {
		return ""
	}

	q := []rune(lower(normalize(query)))
	pos := -1
	if len(q) > 0 {
		pos = indexRunes([]rune(lower(body)), q)
	}
	if pos < 0 {
		return head(runes)
	}
	if len(runes) <= SnippetLen {
		return strings.TrimSpace(body)
	}

	qlen := min(len(q), SnippetLen)
	start := pos + qlen/2 - SnippetLen/2
	start = max(0, min(start, len(runes)-SnippetLen))
	end := start + SnippetLen
	matchEnd := pos + qlen

	if start > 0 && !isSpace(runes[start-1]) {
		for i := start; i < pos; i++ {
			if isSpace(runes[i]) {
				start = i + 1
				break
			}
		}
	}
	if end < len(runes) && !isSpace(runes[end]) {
		for i := end - 1; i >= matchEnd; i-- {
			if isSpace(runes[i]) {
				end = i
				break
			}
		}
	}
	return strings.TrimSpace(string(runes[start:end]))
}

// head returns the first SnippetLen runes, backing off to the last word
// boundary when the cut falls inside a word.
func head(runes []rune) string {
	if len(runes) <= SnippetLen {
		return strings.TrimSpace(string(runes))
	}
	end := SnippetLen
	if !isSpace(runes[end]) {
		for i := end - 1; i > 0; i-- {
			if isSpace(runes[i]) {
				end = i
				break
			}
		}
	}
	return strings.TrimSpace(string(runes[:end]))
}

func indexRunes(s, sub []rune) int {
	if len(sub) > len(s) {
		return -1
	}
outer:
	for i := 0; i+len(sub) <= len(s); i++ {
		for j := range sub {
			if s[i+j] != sub[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func isSpace(r rune) bool { return unicode.IsSpace(r) }
