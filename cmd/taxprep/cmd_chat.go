package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/taxprep/internal/types"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant in the terminal",
	Long: `Starts a local conversation on the session "cli:<user>".

Lines starting with ":" are handled locally:
  :agenda          show reminders
  :done N          toggle reminder N
  :delete N        delete reminder N
  :new             start over
  :quit            leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	// Keep log lines off the prompt unless asked for.
	if os.Getenv("TAXPREP_LOG_LEVEL") == "" {
		cfg.LogLevel = "error"
	}
	setupLogging(cfg)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	user := os.Getenv("USER")
	if user == "" {
		user = "local"
	}
	key := types.NewSessionKey("cli", user)

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("you> "),
		HistoryFile:       filepath.Join(homeDir, ".taxprep-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	a.delivery.Register("cli:", func(_ context.Context, _ types.SessionKey, msg string) error {
		fmt.Fprintf(out, "\n%s\n", yellow(msg))
		rl.Refresh()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.stop()

	fmt.Fprintln(out, bold("taxprep")+" - tell me what changed in your life.")
	fmt.Fprintln(out, "Try \"I lost my job\" or \"I had a baby, remind me 2025-09-10 at 09:00\". Type :quit to leave.")
	fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		} else if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ev, quit := chatEvent(line)
		if quit {
			break
		}
		ev.Source = "cli"
		ev.SessionKey = key
		ev.UserID = user

		reply, err := a.gateway.Submit(ctx, ev)
		if err != nil {
			fmt.Fprintln(out, red("Error: "+err.Error()))
			continue
		}
		fmt.Fprintf(out, "\n%s\n", green("assistant>"))
		fmt.Fprintf(out, "%s\n", markdown.Render(reply, 100, 2))
	}
	fmt.Fprintln(out, "Goodbye!")
	return nil
}

// chatEvent turns a REPL line into an event; quit is true for :quit/:exit.
func chatEvent(line string) (ev *types.InboundEvent, quit bool) {
	if !strings.HasPrefix(line, ":") {
		return &types.InboundEvent{Kind: types.KindMessage, Text: line}, false
	}
	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	switch strings.ToLower(cmd) {
	case "quit", "exit", "q":
		return nil, true
	case "agenda":
		return &types.InboundEvent{Kind: types.KindAgenda}, false
	case "done":
		return &types.InboundEvent{Kind: types.KindToggleReminder, ReminderID: atoiOrZero(arg)}, false
	case "delete":
		return &types.InboundEvent{Kind: types.KindDeleteReminder, ReminderID: atoiOrZero(arg)}, false
	case "new":
		return &types.InboundEvent{Kind: types.KindReset}, false
	}
	return &types.InboundEvent{Kind: types.KindMessage, Text: line}, false
}
