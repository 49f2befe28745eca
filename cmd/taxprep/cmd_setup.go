package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/user/taxprep/internal/config"
	"github.com/user/taxprep/internal/ruleset"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Walk through the main settings and write config.json",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

// setupField is one question of the wizard. apply stores the answer or
// rejects it, in which case the question is asked again.
type setupField struct {
	label   string
	current func(*config.Config) string
	apply   func(*config.Config, string) error
	secret  bool
}

var setupFields = []setupField{
	{
		label:   "Telegram bot token (empty disables Telegram)",
		current: func(c *config.Config) string { return c.Telegram.Token },
		apply:   func(c *config.Config, v string) error { c.Telegram.Token = v; return nil },
		secret:  true,
	},
	{
		label:   "Timezone (IANA name or Local)",
		current: func(c *config.Config) string { return c.Timezone },
		apply: func(c *config.Config, v string) error {
			c.Timezone = v
			_, err := c.Location()
			return err
		},
	},
	{
		label:   "Match threshold (0-100)",
		current: func(c *config.Config) string { return strconv.Itoa(c.Matcher.Threshold) },
		apply: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 100 {
				return fmt.Errorf("enter a whole number from 0 to 100")
			}
			c.Matcher.Threshold = n
			return nil
		},
	},
	{
		label:   "HTTP listen address (empty disables the API)",
		current: func(c *config.Config) string { return c.HTTP.Listen },
		apply: func(c *config.Config, v string) error {
			c.HTTP.Listen = v
			c.HTTP.Enabled = v != ""
			return nil
		},
	},
	{
		label:   "Time for reminders without one (HH:MM)",
		current: func(c *config.Config) string { return c.Reminders.DefaultTime },
		apply: func(c *config.Config, v string) error {
			if _, err := time.Parse("15:04", v); err != nil {
				return fmt.Errorf("expected HH:MM, got %q", v)
			}
			c.Reminders.DefaultTime = v
			return nil
		},
	},
	{
		label:   "Rules file (empty for the built-in rules)",
		current: func(c *config.Config) string { return c.Matcher.RulesPath },
		apply: func(c *config.Config, v string) error {
			if v != "" {
				if _, err := ruleset.Load(v); err != nil {
					return err
				}
			}
			c.Matcher.RulesPath = v
			return nil
		},
	},
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	rl, err := readline.New("")
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Println(bold("taxprep setup"))
	fmt.Println("Press Enter to keep the value in brackets, or type - to clear it.")
	fmt.Println()

	for _, f := range setupFields {
		if err := askField(rl, cfg, f); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println()
	fmt.Println(green("saved"), cfgPath)
	return nil
}

func askField(rl *readline.Instance, cfg *config.Config, f setupField) error {
	for {
		shown := f.current(cfg)
		if f.secret && shown != "" {
			shown = fmt.Sprint(config.MaskValue(shown))
		}
		prompt := f.label + ": "
		if shown != "" {
			prompt = fmt.Sprintf("%s [%s]: ", f.label, shown)
		}
		rl.SetPrompt(prompt)

		var line string
		var err error
		if f.secret {
			var pw []byte
			pw, err = rl.ReadPassword(prompt)
			line = string(pw)
		} else {
			line, err = rl.Readline()
		}
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return errors.New("setup cancelled")
		}
		if err != nil {
			return err
		}

		answer := strings.TrimSpace(line)
		switch answer {
		case "":
			return nil
		case "-":
			answer = ""
		}
		if err := f.apply(cfg, answer); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("invalid:"), err)
			continue
		}
		return nil
	}
}
