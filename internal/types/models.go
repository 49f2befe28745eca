package types

import (
	"time"
)

// EventKind selects what a Run does to its session.
type EventKind string

const (
	KindMessage        EventKind = "message"
	KindAddReminder    EventKind = "reminder_add"
	KindToggleReminder EventKind = "reminder_toggle"
	KindDeleteReminder EventKind = "reminder_delete"
	KindAgenda         EventKind = "agenda"
	KindDueCheck       EventKind = "due_check"
	KindReset          EventKind = "reset"
)

type SessionIndex struct {
	SessionID  SessionID  `json:"session_id"`
	SessionKey SessionKey `json:"session_key"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastRunID  RunID      `json:"last_run_id,omitempty"`
	Turns      int64      `json:"turns"`
}

// ReminderInput carries the fields of a manually added reminder.
type ReminderInput struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes"`
}

type InboundEvent struct {
	Kind       EventKind      `json:"kind"`
	Source     string         `json:"source"`
	SessionKey SessionKey     `json:"session_key"`
	UserID     string         `json:"user_id"`
	Text       string         `json:"text,omitempty"`
	Reminder   *ReminderInput `json:"reminder,omitempty"`
	ReminderID int            `json:"reminder_id,omitempty"`
	At         time.Time      `json:"at"`
}

// EffectiveKind treats an unset kind as a chat message.
func (e *InboundEvent) EffectiveKind() EventKind {
	if e.Kind == "" {
		return KindMessage
	}
	return e.Kind
}
