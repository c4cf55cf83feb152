package processor

import (
	"iter"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// minPlaceholderLength counts delimiters, so "{a}" is the shortest token kept.
const minPlaceholderLength = 3

var (
	doubleBracePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	singleBracePattern = regexp.MustCompile(`\{\s*([^{}]+?)\s*\}`)
	bracketPattern     = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	dollarPattern      = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// ExtractPlaceholders returns the distinct placeholder tokens found in text,
// delimiters included, sorted ascending. A text without tokens yields an
// empty slice.
func ExtractPlaceholders(text string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range []*regexp.Regexp{doubleBracePattern, bracketPattern, dollarPattern} {
		for _, m := range pattern.FindAllString(text, -1) {
			add(seen, m)
		}
	}
	for _, loc := range singleBracePattern.FindAllStringIndex(text, -1) {
		if partOfLongerToken(text, loc[0], loc[1]) {
			continue
		}
		add(seen, text[loc[0]:loc[1]])
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Placeholders yields the same tokens as ExtractPlaceholders. Every range
// over the sequence scans text again.
func Placeholders(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, p := range ExtractPlaceholders(text) {
			if !yield(p) {
				return
			}
		}
	}
}

func add(seen map[string]struct{}, match string) {
	p := strings.TrimSpace(match)
	if utf8.RuneCountInString(p) < minPlaceholderLength {
		return
	}
	seen[p] = struct{}{}
}

// partOfLongerToken reports whether a single-brace match at [start,end) sits
// inside a {{...}} or ${...} token.
func partOfLongerToken(text string, start, end int) bool {
	if start > 0 && (text[start-1] == '{' || text[start-1] == '$') {
		return true
	}
	return end < len(text) && text[end] == '}'
}
