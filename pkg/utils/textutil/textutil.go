// Package textutil provides language-agnostic text helpers shared by the
// heuristic analyzers. Japanese text has no word boundaries, so CJK runs are
// tokenized into character bigrams while Latin text is split into words.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC normalization (full-width to half-width etc.) and lowercases s
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// IsBlank reports whether s contains only whitespace
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		r == 'ー' || r == '々'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokens splits s into normalized tokens: words for Latin script and
// character bigrams for CJK runs. A single-character CJK run yields itself.
func Tokens(s string) []string {
	s = Normalize(s)

	var tokens []string
	var word []rune
	var cjk []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 1:
			tokens = append(tokens, string(cjk))
		case len(cjk) > 1:
			for i := 0; i+1 < len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range s {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case isWordRune(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	return tokens
}

// ContentTokens is Tokens without bigrams made only of hiragana, which are
// mostly particles and inflections. When that would leave nothing, all
// tokens are returned.
func ContentTokens(s string) []string {
	tokens := Tokens(s)
	content := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !isHiraganaOnly(tok) {
			content = append(content, tok)
		}
	}
	if len(content) == 0 {
		return tokens
	}
	return content
}

func isHiraganaOnly(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !unicode.Is(unicode.Hiragana, r) {
			return false
		}
	}
	return true
}

var sentenceTerminators = "。．.!?！？\n"

// Sentences splits s on sentence terminators and drops empty fragments
func Sentences(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(sentenceTerminators, r)
	})

	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// CountKeywords returns the total number of keyword occurrences in text and
// the distinct keywords that matched, in keyword order. Matching is done on
// normalized text.
func CountKeywords(text string, keywords []string) (int, []string) {
	normalized := Normalize(text)

	hits := 0
	var matched []string
	for _, kw := range keywords {
		k := Normalize(kw)
		if k == "" {
			continue
		}
		if n := strings.Count(normalized, k); n > 0 {
			hits += n
			matched = append(matched, kw)
		}
	}
	return hits, matched
}

// ContainsAny reports whether text contains at least one of keywords
func ContainsAny(text string, keywords []string) bool {
	hits, _ := CountKeywords(text, keywords)
	return hits > 0
}

// SentenceContaining returns the first sentence of text that contains
// keyword, or the whole trimmed text when no sentence matches.
func SentenceContaining(text, keyword string) string {
	k := Normalize(keyword)
	for _, s := range Sentences(text) {
		if strings.Contains(Normalize(s), k) {
			return s
		}
	}
	return strings.TrimSpace(text)
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut
func Truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// EstimateTokens approximates the number of model tokens in s. CJK characters
// count as one token each, other runes as a quarter token.
func EstimateTokens(s string) int {
	cjk, other := 0, 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}
