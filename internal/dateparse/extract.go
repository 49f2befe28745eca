// Package dateparse pulls a calendar date and a clock time out of chat text.
// It never fails: anything it cannot read is reported as absent.
package dateparse

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Extraction is the result of one Extract call. Empty fields mean "not
// found", never midnight or the zero date.
type Extraction struct {
	Date string `json:"date,omitempty"` // YYYY-MM-DD
	Time string `json:"time,omitempty"` // HH:MM, 24h
}

// Found reports whether either component was extracted.
func (e Extraction) Found() bool {
	return e.Date != "" || e.Time != ""
}

// maxCandidates bounds the natural-language scan.
const maxCandidates = 8

var (
	isoDate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	clock24   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	clock12   = regexp.MustCompile(`(?i)\b([1-9]|1[0-2])\s*(am|pm)\b`)

	// Words that natural-language search must not read as date fragments.
	fillers = regexp.MustCompile(`(?i)\b(?:to|ok|okay|save|calendar)\b`)

	digitDate    = regexp.MustCompile(`\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}`)
	numericDate  = regexp.MustCompile(`\b(\d{1,4})([-/.])(\d{1,2})([-/.])(\d{1,4})\b`)
	dashPair     = regexp.MustCompile(`^\s*\d{1,2}-\d{1,2}\s*$`)
	explicitYear = regexp.MustCompile(`\b\d{4}\b`)
	pastWords    = regexp.MustCompile(`(?i)\b(?:yesterday|ago|last|past|previous)\b`)
	weekdayWords = regexp.MustCompile(`(?i)\b(?:mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(?:day|nesday|sday|urday)?\b`)
)

// Extractor resolves relative expressions against a reference clock.
type Extractor struct {
	parser *when.Parser
	now    func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock fixes the reference time used for relative expressions.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithLocation resolves relative expressions in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) {
		prev := e.now
		e.now = func() time.Time { return prev().In(loc) }
	}
}

// New builds an Extractor with the English and numeric rule sets.
func New(opts ...Option) *Extractor {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	e := &Extractor{parser: p, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the first date found (ISO, then D/M/YYYY, then other
// digit-punctuated dates, then natural language) and, independently, the
// first clock time in text.
func (e *Extractor) Extract(text string) Extraction {
	if strings.TrimSpace(text) == "" {
		return Extraction{}
	}
	return Extraction{Date: e.date(text), Time: ExtractTime(text)}
}

func (e *Extractor) date(text string) string {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
	}
	if m := slashDate.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if d >= 1 && d <= 31 && mo >= 1 && mo <= 12 {
			return fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
		}
	}
	ref := e.now()
	cands := e.candidates(text, ref)
	if len(cands) == 0 {
		return ""
	}
	picked := cands[0]
	for _, c := range cands {
		if digitDate.MatchString(c.text) {
			picked = c
			break
		}
	}
	return preferFuture(picked.at, ref, picked.text).Format(time.DateOnly)
}

type candidate struct {
	index int
	text  string
	at    time.Time
}

// candidates collects digit-punctuated dates (D-M-YYYY, D.M.YYYY,
// YYYY/M/D and friends), then runs the natural-language parser repeatedly
// over the rest, blanking each matched span. Fragments come back in the
// order they appear.
func (e *Extractor) candidates(text string, ref time.Time) []candidate {
	out := numericCandidates(text, ref.Location())
	masked := blank(blank(text, numericDate), fillers)
	for i := 0; i < maxCandidates; i++ {
		r, err := e.parser.Parse(masked, ref)
		if err != nil || r == nil || r.Text == "" {
			break
		}
		end := r.Index + len(r.Text)
		if r.Index < 0 || end > len(masked) {
			break
		}
		// "10-09" alone is a clock reading to the parser, never a date.
		if !dashPair.MatchString(r.Text) {
			out = append(out, candidate{index: r.Index, text: r.Text, at: r.Time})
		}
		masked = masked[:r.Index] + strings.Repeat(" ", len(r.Text)) + masked[end:]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// numericCandidates reads day-first dates with a four-digit year last and
// year-first dates with a four-digit year first. Mixed separators and
// impossible calendar dates are skipped.
func numericCandidates(text string, loc *time.Location) []candidate {
	var out []candidate
	for _, m := range numericDate.FindAllStringSubmatchIndex(text, -1) {
		part := func(i int) string { return text[m[2*i]:m[2*i+1]] }
		if part(2) != part(4) {
			continue
		}
		var y, mo, d int
		switch {
		case len(part(1)) == 4 && len(part(5)) <= 2:
			y, _ = strconv.Atoi(part(1))
			mo, _ = strconv.Atoi(part(3))
			d, _ = strconv.Atoi(part(5))
		case len(part(5)) == 4 && len(part(1)) <= 2:
			d, _ = strconv.Atoi(part(1))
			mo, _ = strconv.Atoi(part(3))
			y, _ = strconv.Atoi(part(5))
		default:
			continue
		}
		at := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
		if mo < 1 || mo > 12 || at.Day() != d || at.Month() != time.Month(mo) {
			continue
		}
		out = append(out, candidate{index: m[0], text: text[m[0]:m[1]], at: at})
	}
	return out
}

// preferFuture moves relative dates that landed before today to their next
// occurrence. Fragments naming a year or an explicit past are left alone.
func preferFuture(t, ref time.Time, frag string) time.Time {
	today := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	if !t.Before(today) || explicitYear.MatchString(frag) || pastWords.MatchString(frag) {
		return t
	}
	if weekdayWords.MatchString(frag) {
		for t.Before(today) {
			t = t.AddDate(0, 0, 7)
		}
		return t
	}
	if digitDate.MatchString(frag) || hasMonthName(frag) {
		for t.Before(today) {
			t = t.AddDate(1, 0, 0)
		}
	}
	return t
}

func hasMonthName(s string) bool {
	lower := strings.ToLower(s)
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if strings.Contains(lower, name) || strings.Contains(lower, name[:3]+" ") {
			return true
		}
	}
	return false
}

// blank overwrites every match of re with spaces so byte offsets survive.
func blank(s string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
}

// ExtractTime finds a 24h H:MM first, then an "H am/pm" form. It returns ""
// when neither is present.
func ExtractTime(text string) string {
	if m := clock24.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:%s", h, m[2])
	}
	if m := clock12.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		switch strings.ToLower(m[2]) {
		case "pm":
			if h != 12 {
				h += 12
			}
		case "am":
			if h == 12 {
				h = 0
			}
		}
		return fmt.Sprintf("%02d:00", h)
	}
	return ""
}
