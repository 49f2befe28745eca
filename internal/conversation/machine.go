// Package conversation turns one chat message plus the session's state into
// a reply and the next state. A session is Idle or AwaitingConfirmation
// (a pending reminder is set); each turn is evaluated in a fixed priority
// order: confirmation, explicit calendar command, event detection, date
// fallback, and recall of earlier events.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/taxprep/internal/agenda"
	"github.com/user/taxprep/internal/command"
	"github.com/user/taxprep/internal/dateparse"
	"github.com/user/taxprep/internal/matcher"
	"github.com/user/taxprep/internal/ruleset"
)

const separator = "\n\n---\n\n"

// affirmations commit a pending reminder. Comparison is on the trimmed,
// lowercased message.
var affirmations = map[string]bool{
	"yes": true, "y": true, "ok": true, "okay": true, "sure": true,
	"save": true, "save it": true, "please save": true,
	"đồng ý": true, "lưu": true, "lưu lại": true, "có": true,
}

// declines drop a pending reminder without saving it.
var declines = map[string]bool{
	"no": true, "n": true, "nope": true, "cancel": true, "don't": true, "dont": true,
	"không": true,
}

// Outcome names the branch a turn took.
type Outcome string

const (
	OutcomeEmpty        Outcome = "empty"
	OutcomeConfirmed    Outcome = "confirmed"
	OutcomeDeclined     Outcome = "declined"
	OutcomeCommand      Outcome = "command"
	OutcomeClarify      Outcome = "clarify"
	OutcomeEvents       Outcome = "events"
	OutcomeRecalled     Outcome = "recalled"
	OutcomeDatePending  Outcome = "date_pending"
	OutcomeUnrecognised Outcome = "unrecognised"
)

// Turn describes a processed message for observers.
type Turn struct {
	Outcome Outcome
	Hits    []matcher.MatchHit
	// Created is set when the turn committed a reminder.
	Created *agenda.Reminder
	// Prompted is true when the turn left a pending reminder behind.
	Prompted bool
}

// Observer is notified after every turn.
type Observer interface {
	ObserveTurn(Turn)
}

// Machine is stateless; all per-session data travels in SessionState.
type Machine struct {
	rules     *ruleset.Ruleset
	matcher   matcher.Matcher
	dates     *dateparse.Extractor
	commands  *command.Parser
	threshold int
	debug     bool
	observer  Observer
}

// Option configures a Machine.
type Option func(*Machine)

// WithThreshold sets the minimum match score (default 60).
func WithThreshold(n int) Option {
	return func(m *Machine) { m.threshold = n }
}

// WithDebug appends the matched keyword and score to every event section.
func WithDebug(on bool) Option {
	return func(m *Machine) { m.debug = on }
}

// WithMatcher replaces the default fuzzy matcher.
func WithMatcher(mt matcher.Matcher) Option {
	return func(m *Machine) { m.matcher = mt }
}

func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// New wires a Machine over the ruleset and date extractor.
func New(rules *ruleset.Ruleset, dates *dateparse.Extractor, opts ...Option) *Machine {
	m := &Machine{
		rules:     rules,
		matcher:   matcher.NewFuzzy(rules),
		dates:     dates,
		commands:  command.NewParser(dates),
		threshold: matcher.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Debug reports whether match diagnostics are shown.
func (m *Machine) Debug() bool {
	return m.debug
}

// ProcessTurn is the single entry point: it never mutates st and returns the
// reply together with the next state.
func (m *Machine) ProcessTurn(message string, st SessionState) (string, SessionState) {
	reply, next, turn := m.process(message, st.Clone())
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		events := make([]string, 0, len(turn.Hits))
		for _, h := range turn.Hits {
			events = append(events, fmt.Sprintf("%s:%d", h.EventKey, h.Score))
		}
		slog.Debug("turn processed",
			"outcome", string(turn.Outcome),
			"events", events,
			"pending", next.Awaiting(),
			"reminders", len(next.Reminders),
		)
	}
	if m.observer != nil {
		m.observer.ObserveTurn(turn)
	}
	return reply, next
}

func (m *Machine) process(message string, st SessionState) (string, SessionState, Turn) {
	text := strings.TrimSpace(message)
	if text == "" {
		return "Please type something so I can help 🙂", st, Turn{Outcome: OutcomeEmpty}
	}

	// 1. Confirmation or refusal of a pending reminder.
	if st.Pending != nil {
		lower := strings.ToLower(text)
		if affirmations[lower] {
			saved := *st.Pending
			var r agenda.Reminder
			st.Reminders, r = agenda.Append(st.Reminders, agenda.Reminder{
				Title: orDefault(saved.Title, ruleset.DefaultReminderTitle),
				Date:  saved.Date,
				Time:  saved.Time,
				Notes: saved.Notes,
			})
			st.Pending = nil
			reply := fmt.Sprintf("✅ Saved to calendar: **%s** — %s", r.Title, schedule(r.Date, r.Time))
			return reply, st, Turn{Outcome: OutcomeConfirmed, Created: &r}
		}
		if declines[lower] {
			st.Pending = nil
			return "Okay, I won't save that reminder.", st, Turn{Outcome: OutcomeDeclined}
		}
	}

	// 2. Explicit calendar command.
	cmd := m.commands.Parse(text)
	hits := m.matcher.Detect(text, m.threshold)
	for _, h := range hits {
		st.Remember(h.EventKey)
	}
	if cmd.Triggered {
		return m.command(cmd, hits, st)
	}

	// 3. Event detection.
	var parts []string
	outcome := OutcomeEvents
	switch {
	case len(hits) > 0:
		for _, h := range hits {
			parts = append(parts, m.eventSection(h))
		}
	case len(st.Memory) == 0:
		// 4. Nothing recognised; a bare date still becomes a pending reminder.
		when := m.dates.Extract(text)
		if !when.Found() {
			return "Hmm, I couldn’t recognise a life event 🤔. Try 'I lost my job' or 'I had a baby'.", st, Turn{Outcome: OutcomeUnrecognised}
		}
		st.Pending = &PendingReminder{Title: ruleset.DefaultReminderTitle, Date: when.Date, Time: when.Time}
		reply := "I couldn’t recognise a life event yet.\n\n📅 I found a date " + schedule(when.Date, when.Time) +
			". Save to calendar? (reply **yes** to confirm)"
		return reply, st, Turn{Outcome: OutcomeDatePending, Prompted: true}
	default:
		// 5. Reuse what the session already knows.
		outcome = OutcomeRecalled
		parts = append(parts, "I’ll reuse what we talked about earlier — here are the checklists again:")
		for _, key := range st.Memory {
			if ev, ok := m.rules.Get(key); ok {
				parts = append(parts, recallSection(ev))
			}
		}
	}

	// 6. Offer to save any date mentioned alongside the events.
	turn := Turn{Outcome: outcome, Hits: hits}
	if when := m.dates.Extract(text); when.Found() {
		title := ruleset.DefaultReminderTitle
		if len(hits) > 0 {
			if ev, ok := m.rules.Get(hits[0].EventKey); ok {
				title = ev.ReminderTitle()
			}
		}
		st.Pending = &PendingReminder{Title: title, Date: when.Date, Time: when.Time}
		parts = append(parts, "📅 I noticed a date "+schedule(when.Date, when.Time)+". Save to calendar? (reply **yes** to confirm)")
		turn.Prompted = true
	}
	return strings.Join(parts, separator), st, turn
}

// command handles a triggered calendar command. The reminder is created
// immediately; checklists for events in the same message follow it.
func (m *Machine) command(cmd command.Command, hits []matcher.MatchHit, st SessionState) (string, SessionState, Turn) {
	var parts []string
	turn := Turn{Hits: hits}
	if cmd.HasWhen() {
		var r agenda.Reminder
		st.Reminders, r = agenda.Append(st.Reminders, agenda.Reminder{
			Title: cmd.Title,
			Date:  cmd.Date,
			Time:  cmd.Time,
		})
		st.Pending = nil
		parts = append(parts, fmt.Sprintf("✅ Reminder created: **%s** — %s", r.Title, schedule(r.Date, r.Time)))
		turn.Outcome = OutcomeCommand
		turn.Created = &r
	} else {
		turn.Outcome = OutcomeClarify
	}
	for _, h := range hits {
		parts = append(parts, m.eventSection(h))
	}
	if !cmd.HasWhen() {
		parts = append(parts, "🗓️ I can set that reminder, but I couldn’t find a date or time. "+
			"Try 'remind me on 2025-09-10 at 09:00 to lodge tax return'.")
	}
	return strings.Join(parts, separator), st, turn
}

func (m *Machine) eventSection(h matcher.MatchHit) string {
	ev, ok := m.rules.Get(h.EventKey)
	if !ok {
		return strings.ReplaceAll(strings.ReplaceAll(ruleset.DefaultIntro, "{event}", h.EventKey), ruleset.PhrasePlaceholder, h.Span)
	}
	var b strings.Builder
	b.WriteString(ev.Intro(h.Span))
	b.WriteString("\n\n**Documents you should gather:**\n")
	b.WriteString(bullets(ev.Docs))
	b.WriteString("\n\n**Tax-related steps (simple):**\n")
	b.WriteString(bullets(ev.Actions))
	if m.debug {
		fmt.Fprintf(&b, "\n\n_(Matched keyword: `%s`, score=%d)_", h.Keyword, h.Score)
	}
	return b.String()
}

func recallSection(ev *ruleset.Event) string {
	return fmt.Sprintf("**Event remembered: %s**\nDocuments:\n%s\n\nTax steps:\n%s",
		ev.Label(), bullets(ev.Docs), bullets(ev.Actions))
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

// schedule renders "date time", using "(no date)" when only a time is known.
func schedule(date, tm string) string {
	s := orDefault(date, "(no date)")
	if tm != "" {
		s += " " + tm
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
