// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxFuzzyRank is the largest edit distance still accepted as the same title.
const maxFuzzyRank = 10

// normalizeTitle folds diacritics and case and reduces separators to single
// spaces, so "Amélie.2001" and "amelie 2001" compare equal.
func normalizeTitle(s string) string {
	// transformers carry state; build one per call
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case r == '\'':
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(stripArticle(b.String()))
}

func stripArticle(s string) string {
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(s, article) && len(s) > len(article) {
			return s[len(article):]
		}
	}
	return s
}

// queryTitle drops trailing year and season/episode tokens from a free-text
// query: "Severance S01E02" becomes "Severance".
func queryTitle(query string) string {
	fields := strings.Fields(query)
	for len(fields) > 1 {
		last := strings.ToLower(fields[len(fields)-1])
		if !isYear(last) && !isEpisodeToken(last) {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func isYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1900 && n <= 2100
}

func isEpisodeToken(s string) bool {
	if len(s) < 2 || s[0] != 's' {
		return false
	}
	season, episode, hasEpisode := strings.Cut(s[1:], "e")
	if _, err := strconv.Atoi(season); err != nil {
		return false
	}
	if hasEpisode {
		if _, err := strconv.Atoi(episode); err != nil {
			return false
		}
	}
	return true
}

type relevanceFilter struct {
	want string
}

func newRelevanceFilter(query string) relevanceFilter {
	return relevanceFilter{want: normalizeTitle(queryTitle(query))}
}

// Match reports whether a release title is about the queried title. parsed is
// the title extracted from the release name, raw the full release name.
func (f relevanceFilter) Match(parsed, raw string) bool {
	if f.want == "" {
		return true
	}

	got := normalizeTitle(parsed)
	if got == "" {
		return fuzzy.MatchNormalizedFold(f.want, normalizeTitle(raw))
	}
	if got == f.want {
		return true
	}
	rank := fuzzy.RankMatchNormalizedFold(f.want, got)
	return rank >= 0 && rank < maxFuzzyRank
}
