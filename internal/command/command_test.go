package command

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/user/taxprep/internal/dateparse"
)

func newTestParser() *Parser {
	ref := time.Date(2025, time.September, 8, 10, 0, 0, 0, time.UTC)
	return NewParser(dateparse.New(dateparse.WithClock(func() time.Time { return ref })))
}

func TestParse(t *testing.T) {
	p := newTestParser()
	tests := []struct {
		name string
		text string
		want Command
	}{
		{
			name: "remind me with title",
			text: "remind me on 2025-09-10 at 09:00 to lodge tax return",
			want: Command{Triggered: true, Title: "lodge tax return", Date: "2025-09-10", Time: "09:00"},
		},
		{
			name: "default title",
			text: "Remind me 10/9/2025 3pm",
			want: Command{Triggered: true, Title: "Tax reminder", Date: "2025-09-10", Time: "15:00"},
		},
		{
			name: "set a reminder",
			text: "Set a reminder 2025-10-01 TO call the accountant",
			want: Command{Triggered: true, Title: "call the accountant", Date: "2025-10-01"},
		},
		{
			name: "set reminder without article",
			text: "set reminder 2025-10-01",
			want: Command{Triggered: true, Title: "Tax reminder", Date: "2025-10-01"},
		},
		{
			name: "date after the split is ignored",
			text: "save it to the calendar 2025-09-10",
			want: Command{Triggered: true, Title: "the calendar 2025-09-10"},
		},
		{
			name: "blank suffix keeps default title",
			text: "remind me 2025-09-10 to   ",
			want: Command{Triggered: true, Title: "Tax reminder", Date: "2025-09-10"},
		},
		{
			name: "no trigger",
			text: "I lost my job on 2025-09-10",
			want: Command{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestHasWhen(t *testing.T) {
	if (Command{Triggered: true}).HasWhen() {
		t.Error("expected no date/time")
	}
	if !(Command{Time: "09:00"}).HasWhen() {
		t.Error("expected time to count")
	}
}
