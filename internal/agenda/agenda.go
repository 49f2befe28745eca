// Package agenda implements the reminder list: id assignment, validated
// manual entry, toggling, deletion, due detection and date-grouped
// rendering. Every operation returns a new list; inputs are never mutated.
package agenda

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	noDateKey   = "(no date)"
	sortMaxDate = "9999-12-31"
	sortMaxTime = "23:59"
)

var (
	ErrValidation  = errors.New("invalid reminder")
	ErrEmpty       = errors.New("no reminders")
	ErrNoSelection = errors.New("no reminder selected")
	ErrNotFound    = errors.New("reminder not found")
)

var digits = regexp.MustCompile(`^\d+$`)

// Reminder is a committed calendar entry.
type Reminder struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Notes    string `json:"notes"`
	Done     bool   `json:"done"`
	Notified bool   `json:"notified,omitempty"`
}

// List is an ordered reminder collection in insertion order.
type List []Reminder

// Clone returns an independent copy.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Find returns the reminder with the given id.
func (l List) Find(id int) (Reminder, bool) {
	for _, r := range l {
		if r.ID == id {
			return r, true
		}
	}
	return Reminder{}, false
}

// NextID is max existing id + 1, or 1 for an empty list.
func NextID(l List) int {
	highest := 0
	for _, r := range l {
		if r.ID > highest {
			highest = r.ID
		}
	}
	return highest + 1
}

// Append assigns the next id to r and appends it without validation. It is
// used for reminders produced by the conversation, whose fields come from
// the extractor.
func Append(l List, r Reminder) (List, Reminder) {
	r.ID = NextID(l)
	out := append(l.Clone(), r)
	return out, r
}

// Add validates manual input and appends a new reminder. On failure the
// original list is returned with a user-facing status and an error wrapping
// ErrValidation.
func Add(l List, title, date, tm, notes string) (List, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return l, "❌ Please enter a title.", fmt.Errorf("%w: title is required", ErrValidation)
	}
	date = strings.TrimSpace(date)
	if !ValidDate(date) {
		return l, "❌ Date must be in YYYY-MM-DD (e.g., 2025-09-10).", fmt.Errorf("%w: date %q", ErrValidation, date)
	}
	tm = strings.TrimSpace(tm)
	if tm != "" {
		norm, ok := NormalizeTime(tm)
		if !ok {
			return l, "❌ Time must be HH:MM (e.g., 09:00).", fmt.Errorf("%w: time %q", ErrValidation, tm)
		}
		tm = norm
	}
	out, _ := Append(l, Reminder{
		Title: title,
		Date:  date,
		Time:  tm,
		Notes: strings.TrimSpace(notes),
	})
	return out, "✅ Added.", nil
}

// Toggle flips the done flag of the reminder with the given id.
func Toggle(l List, id int) (List, string, error) {
	idx, status, err := locate(l, id)
	if err != nil {
		return l, status, err
	}
	out := l.Clone()
	out[idx].Done = !out[idx].Done
	return out, "✅ Toggled.", nil
}

// Delete removes the reminder with the given id. Ids are never reused while
// a higher id remains in the list.
func Delete(l List, id int) (List, string, error) {
	idx, status, err := locate(l, id)
	if err != nil {
		return l, status, err
	}
	out := make(List, 0, len(l)-1)
	out = append(out, l[:idx]...)
	out = append(out, l[idx+1:]...)
	return out, "🗑️ Deleted.", nil
}

func locate(l List, id int) (int, string, error) {
	if len(l) == 0 {
		return -1, "No reminders.", ErrEmpty
	}
	if id <= 0 {
		return -1, "Select one first.", ErrNoSelection
	}
	for i, r := range l {
		if r.ID == id {
			return i, "", nil
		}
	}
	return -1, fmt.Sprintf("Reminder %d not found.", id), fmt.Errorf("%w: %d", ErrNotFound, id)
}

// ValidDate accepts only a real calendar date written as YYYY-MM-DD.
func ValidDate(s string) bool {
	if len(s) != len(time.DateOnly) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// NormalizeTime accepts exactly one "H:MM" or "HH:MM" pair within a day and
// returns it zero-padded.
func NormalizeTime(s string) (string, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || !digits.MatchString(parts[0]) || len(parts[1]) != 2 || !digits.MatchString(parts[1]) {
		return "", false
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	if len(parts[0]) > 2 || h > 23 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// Sorted orders reminders by (done, date, time) with undated and untimed
// entries after dated and timed ones.
func Sorted(l List) List {
	out := l.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Done != b.Done {
			return !a.Done
		}
		if da, db := orDefault(a.Date, sortMaxDate), orDefault(b.Date, sortMaxDate); da != db {
			return da < db
		}
		return orDefault(a.Time, sortMaxTime) < orDefault(b.Time, sortMaxTime)
	})
	return out
}

// Render groups the sorted reminders by date. Groups appear in the order
// their first reminder appears in the sorted list.
func Render(l List) string {
	if len(l) == 0 {
		return "No reminders yet."
	}
	sorted := Sorted(l)
	var keys []string
	groups := make(map[string][]Reminder)
	for _, r := range sorted {
		key := orDefault(r.Date, noDateKey)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s", key)
		for _, r := range groups[key] {
			status := "⏳ Pending"
			if r.Done {
				status = "✅ Done"
			}
			timePart := ""
			if r.Time != "" {
				timePart = " " + r.Time
			}
			fmt.Fprintf(&b, "\n- [%s] **%s** —%s", status, orDefault(r.Title, "(no title)"), timePart)
		}
	}
	return b.String()
}

// Label is the one-line form used in selection lists and notifications.
func (r Reminder) Label() string {
	s := fmt.Sprintf("%d — %s (%s", r.ID, r.Title, r.Date)
	if r.Time != "" {
		s += " " + r.Time
	}
	return s + ")"
}

// Due returns the ids of undone, un-notified reminders whose moment has
// passed. Undated reminders are never due; untimed ones fall due at
// defaultTime on their date.
func Due(l List, now time.Time, defaultTime string) []int {
	var ids []int
	for _, r := range l {
		if r.Done || r.Notified || r.Date == "" {
			continue
		}
		at, ok := dueAt(r, defaultTime, now.Location())
		if ok && !at.After(now) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// MarkNotified returns a copy with the given reminders flagged as delivered.
func MarkNotified(l List, ids []int) List {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := l.Clone()
	for i := range out {
		if want[out[i].ID] {
			out[i].Notified = true
		}
	}
	return out
}

func dueAt(r Reminder, defaultTime string, loc *time.Location) (time.Time, bool) {
	tm := r.Time
	if tm == "" {
		tm = defaultTime
	}
	if norm, ok := NormalizeTime(tm); ok {
		tm = norm
	} else {
		tm = "00:00"
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", r.Date+" "+tm, loc)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
