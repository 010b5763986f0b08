package slack

import (
	"strings"
	"unicode/utf8"
)

// fullWidthPunct lists non-ASCII punctuation that Slack rejects in names
const fullWidthPunct = "。、！？，．／＼＠＃＄％＆＊（）［］｛｝＜＞｜～"

// NormalizeChannelName turns a configured escalation channel such as
// "Tech Support" into the name Slack stores ("tech-support"). Latin letters
// are lowered, spaces become hyphens, ASCII symbols other than '-' and '_'
// are dropped, and non-ASCII text (Japanese etc.) is kept.
func NormalizeChannelName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '-'
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= utf8.RuneSelf && !strings.ContainsRune(fullWidthPunct, r):
			return r
		}
		return -1
	}, name)
}

// truncateToMaxBytes cuts s to at most maxBytes bytes on a rune boundary
// and marks the cut with an ellipsis
func truncateToMaxBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const ellipsis = "…"
	limit := maxBytes - len(ellipsis)
	if limit <= 0 {
		return ""
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + ellipsis
}
