package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/taxprep/internal/command"
	"github.com/user/taxprep/internal/dateparse"
	"github.com/user/taxprep/internal/matcher"
	"github.com/user/taxprep/internal/ruleset"
)

var detectThreshold int

func init() {
	detectCmd.Flags().IntVar(&detectThreshold, "threshold", -1, "minimum match score (default from config)")
	rootCmd.AddCommand(detectCmd, rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesValidateCmd)
}

var detectCmd = &cobra.Command{
	Use:   "detect <text>",
	Short: "Show which events, dates and calendar commands a message contains",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		rules, err := ruleset.Load(cfg.Matcher.RulesPath)
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		threshold := cfg.Matcher.Threshold
		if detectThreshold >= 0 {
			threshold = detectThreshold
		}

		text := strings.Join(args, " ")
		dates := dateparse.New(dateparse.WithLocation(loc))
		hits := matcher.NewFuzzy(rules).Detect(text, threshold)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, bold("EVENT")+"\t"+bold("SCORE")+"\t"+bold("KEYWORD")+"\t"+bold("SPAN"))
		for _, h := range hits {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", green(h.EventKey), h.Score, h.Keyword, h.Span)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println(yellow(fmt.Sprintf("no event at threshold %d", threshold)))
		}

		ex := dates.Extract(text)
		fmt.Printf("\ndate: %s  time: %s\n", orDash(ex.Date), orDash(ex.Time))
		if c := command.NewParser(dates).Parse(text); c.Triggered {
			fmt.Printf("command: title=%q date=%s time=%s\n", c.Title, orDash(c.Date), orDash(c.Time))
		}
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the life-event rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := ruleset.Load(loadConfig().Matcher.RulesPath)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tKEYWORDS\tDOCS\tACTIONS\tSOURCES")
		for _, ev := range rules.Events() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
				ev.Key,
				strings.Join(ev.Keywords, ", "),
				len(ev.Docs),
				len(ev.Actions),
				len(ev.Sources),
			)
		}
		return w.Flush()
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a rules file (default: matcher.rules_path or the built-in rules)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			path = loadConfig().Matcher.RulesPath
		}
		rules, err := ruleset.Load(path)
		if err != nil {
			fmt.Println(red("invalid"))
			return err
		}
		if path == "" {
			path = "built-in rules"
		}
		fmt.Printf("%s %s: %d events\n", green("ok"), path, rules.Len())
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil {
		return 0
	}
	return n
}
