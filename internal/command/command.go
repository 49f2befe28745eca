// Package command recognises explicit "remind me" / "save to calendar"
// requests in chat text.
package command

import (
	"regexp"
	"strings"

	"github.com/user/taxprep/internal/dateparse"
	"github.com/user/taxprep/internal/ruleset"
)

var (
	trigger = regexp.MustCompile(`(?i)\b(?:remind me|set (?:a |the )?reminder|save (?:it )?to (?:the )?calendar)\b`)
	toSplit = regexp.MustCompile(`(?i)\s+to\s+`)
)

// Command is the parsed form of a calendar request. The zero value means
// the text contained no trigger phrase.
type Command struct {
	Triggered bool
	Title     string
	Date      string
	Time      string
}

// HasWhen reports whether the command carries a date or a time.
func (c Command) HasWhen() bool {
	return c.Date != "" || c.Time != ""
}

// Parser extracts calendar commands using the given date extractor.
type Parser struct {
	dates *dateparse.Extractor
}

func NewParser(dates *dateparse.Extractor) *Parser {
	return &Parser{dates: dates}
}

// Parse splits a triggered command on its first "to": the prefix is searched
// for a date and time, the suffix becomes the title.
func (p *Parser) Parse(text string) Command {
	if !trigger.MatchString(text) {
		return Command{}
	}
	prefix, title := text, ""
	if loc := toSplit.FindStringIndex(text); loc != nil {
		prefix, title = text[:loc[0]], strings.TrimSpace(text[loc[1]:])
	}
	if title == "" {
		title = ruleset.DefaultReminderTitle
	}
	when := p.dates.Extract(prefix)
	return Command{
		Triggered: true,
		Title:     title,
		Date:      when.Date,
		Time:      when.Time,
	}
}
