// Package matcher scores free text against the life-event ruleset.
package matcher

import (
	"regexp"
	"sort"
	"strings"

	"github.com/user/taxprep/internal/ruleset"
)

// DefaultThreshold is the minimum score an event needs to be reported.
const DefaultThreshold = 60

// MatchHit is one detected event for a single message.
type MatchHit struct {
	EventKey string `json:"event_key"`
	Keyword  string `json:"matched_keyword"`
	Score    int    `json:"score"`
	// Span is the literal text that matched, or the keyword itself when no
	// whole-word occurrence exists in the input.
	Span string `json:"matched_span"`
}

// Matcher detects events in text, ranked by descending score with ties in
// ruleset declaration order.
type Matcher interface {
	Detect(text string, threshold int) []MatchHit
}

// FuzzyMatcher is the similarity-threshold strategy: each event is scored by
// the best partial ratio of any of its keyword variants.
type FuzzyMatcher struct {
	rules    *ruleset.Ruleset
	keywords map[string]string
	bounds   map[string]*regexp.Regexp
}

var _ Matcher = (*FuzzyMatcher)(nil)

// NewFuzzy prepares a matcher over rs. Word-boundary patterns for every
// keyword are compiled up front.
func NewFuzzy(rs *ruleset.Ruleset) *FuzzyMatcher {
	m := &FuzzyMatcher{
		rules:    rs,
		keywords: make(map[string]string),
		bounds:   make(map[string]*regexp.Regexp),
	}
	for _, ev := range rs.Events() {
		for _, kw := range ev.Keywords {
			lower := strings.ToLower(kw)
			if _, ok := m.bounds[lower]; ok {
				continue
			}
			m.keywords[kw] = lower
			m.bounds[lower] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(lower) + `\b`)
		}
	}
	return m
}

// Detect implements Matcher.
func (m *FuzzyMatcher) Detect(text string, threshold int) []MatchHit {
	lower := strings.ToLower(text)
	var hits []MatchHit
	for _, ev := range m.rules.Events() {
		bestKW := ""
		best := -1.0
		for _, kw := range ev.Keywords {
			sc := PartialRatio(lower, m.lower(kw))
			if sc > best {
				best = sc
				bestKW = kw
			}
		}
		score := int(best)
		if bestKW == "" || score < threshold {
			continue
		}
		hits = append(hits, MatchHit{
			EventKey: ev.Key,
			Keyword:  bestKW,
			Score:    score,
			Span:     m.span(text, bestKW),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits
}

func (m *FuzzyMatcher) lower(kw string) string {
	if l, ok := m.keywords[kw]; ok {
		return l
	}
	return strings.ToLower(kw)
}

// span recovers the keyword as written in the original text.
func (m *FuzzyMatcher) span(text, kw string) string {
	re, ok := m.bounds[m.lower(kw)]
	if !ok {
		return kw
	}
	if loc := re.FindStringIndex(text); loc != nil {
		return text[loc[0]:loc[1]]
	}
	return kw
}
