// Package ruleset holds the static table of life events: keyword variants
// used for detection and the checklist shown once an event is recognised.
package ruleset

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var builtinRules []byte

const (
	// PhrasePlaceholder is replaced by the matched span in intro templates.
	PhrasePlaceholder = "{phrase}"

	// DefaultIntro is used for events that declare no intro of their own.
	DefaultIntro = "I detected **{event}** from “{phrase}”."

	// DefaultReminderTitle is used when no event suggests a better title.
	DefaultReminderTitle = "Tax reminder"
)

// Rule is one entry of the rules document. Entries sharing a key are
// grouped into a single Event.
type Rule struct {
	Key           string   `yaml:"key"`
	Keywords      []string `yaml:"keywords"`
	Docs          []string `yaml:"docs"`
	Actions       []string `yaml:"actions"`
	Intro         string   `yaml:"intro,omitempty"`
	ReminderTitle string   `yaml:"reminder_title,omitempty"`
	SourceURL     string   `yaml:"source_url,omitempty"`
	SourceTitle   string   `yaml:"source_title,omitempty"`
	UpdatedAt     string   `yaml:"updated_at,omitempty"`
}

type document struct {
	Events []Rule `yaml:"events"`
}

// Source is a citation attached to an event.
type Source struct {
	URL       string
	Title     string
	UpdatedAt time.Time
}

// Event is the grouped, read-only view of every rule with the same key.
type Event struct {
	Key           string
	Keywords      []string
	Docs          []string
	Actions       []string
	Sources       []Source
	intro         string
	reminderTitle string
}

// Label turns the key into display text ("job_loss" -> "job loss").
func (e *Event) Label() string {
	return strings.ReplaceAll(e.Key, "_", " ")
}

// Intro renders the event's greeting for the matched phrase, falling back
// to DefaultIntro when the event has no template.
func (e *Event) Intro(phrase string) string {
	tmpl := e.intro
	if tmpl == "" {
		tmpl = strings.ReplaceAll(DefaultIntro, "{event}", e.Key)
	}
	return strings.ReplaceAll(tmpl, PhrasePlaceholder, phrase)
}

// ReminderTitle is the suggested title for reminders raised alongside this event.
func (e *Event) ReminderTitle() string {
	if e.reminderTitle == "" {
		return DefaultReminderTitle
	}
	return e.reminderTitle
}

// Ruleset is immutable after load and safe for concurrent readers.
type Ruleset struct {
	events []*Event
	byKey  map[string]*Event
}

// Events returns the events in declaration order.
func (r *Ruleset) Events() []*Event {
	return r.events
}

// Get looks up an event by key.
func (r *Ruleset) Get(key string) (*Event, bool) {
	ev, ok := r.byKey[key]
	return ev, ok
}

func (r *Ruleset) Len() int {
	return len(r.events)
}

// Default parses the built-in rules.
func Default() (*Ruleset, error) {
	return Parse(builtinRules)
}

// Load reads rules from path, or the built-in rules when path is empty.
func Load(path string) (*Ruleset, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return rs, nil
}

// ValidationError describes one defect in a rules document.
type ValidationError struct {
	Index  int
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("rule #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("rule #%d (%s): %s", e.Index, e.Key, e.Reason)
}

// Parse decodes and validates a rules document. Every defect is reported,
// joined into one error.
func Parse(data []byte) (*Ruleset, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(doc.Events) == 0 {
		return nil, errors.New("rules document defines no events")
	}

	rs := &Ruleset{byKey: make(map[string]*Event)}
	var errs []error
	for i, rule := range doc.Events {
		if verr := validateRule(i, rule); verr != nil {
			errs = append(errs, verr...)
			continue
		}
		ev, ok := rs.byKey[rule.Key]
		if !ok {
			ev = &Event{Key: rule.Key}
			rs.byKey[rule.Key] = ev
			rs.events = append(rs.events, ev)
		}
		ev.Keywords = appendUnique(ev.Keywords, rule.Keywords, true)
		ev.Docs = appendUnique(ev.Docs, rule.Docs, false)
		ev.Actions = appendUnique(ev.Actions, rule.Actions, false)
		if ev.intro == "" {
			ev.intro = rule.Intro
		}
		if ev.reminderTitle == "" {
			ev.reminderTitle = strings.TrimSpace(rule.ReminderTitle)
		}
		if rule.SourceURL != "" {
			src := Source{URL: rule.SourceURL, Title: rule.SourceTitle}
			if rule.UpdatedAt != "" {
				src.UpdatedAt, _ = time.Parse(time.DateOnly, rule.UpdatedAt)
			}
			ev.Sources = append(ev.Sources, src)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rs, nil
}

func validateRule(i int, rule Rule) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, &ValidationError{Index: i, Key: rule.Key, Reason: fmt.Sprintf(format, args...)})
	}
	if strings.TrimSpace(rule.Key) == "" {
		fail("missing key")
	}
	if len(rule.Keywords) == 0 {
		fail("no keyword variants")
	}
	for j, kw := range rule.Keywords {
		if strings.TrimSpace(kw) == "" {
			fail("keyword %d is blank", j)
		}
	}
	if len(rule.Docs) == 0 && len(rule.Actions) == 0 {
		fail("no checklist content")
	}
	if rule.Intro != "" && !strings.Contains(rule.Intro, PhrasePlaceholder) {
		fail("intro must contain %s", PhrasePlaceholder)
	}
	if rule.UpdatedAt != "" {
		if _, err := time.Parse(time.DateOnly, rule.UpdatedAt); err != nil {
			fail("updated_at %q is not YYYY-MM-DD", rule.UpdatedAt)
		}
	}
	if rule.SourceURL == "" && (rule.SourceTitle != "" || rule.UpdatedAt != "") {
		fail("source_title/updated_at given without source_url")
	}
	return errs
}

// appendUnique appends items not already present. Keywords compare
// case-insensitively since matching ignores case.
func appendUnique(dst, items []string, fold bool) []string {
	seen := make(map[string]bool, len(dst)+len(items))
	norm := func(s string) string {
		s = strings.TrimSpace(s)
		if fold {
			s = strings.ToLower(s)
		}
		return s
	}
	for _, s := range dst {
		seen[norm(s)] = true
	}
	for _, s := range items {
		n := norm(s)
		if seen[n] {
			continue
		}
		seen[n] = true
		dst = append(dst, strings.TrimSpace(s))
	}
	return dst
}
