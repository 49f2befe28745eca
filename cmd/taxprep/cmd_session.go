package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/taxprep/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd, remindCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionAgendaCmd)
	remindCmd.AddCommand(remindAddCmd, remindDoneCmd, remindDeleteCmd)

	remindAddCmd.Flags().String("date", "", "date as YYYY-MM-DD (required)")
	remindAddCmd.Flags().String("time", "", "time as HH:MM")
	remindAddCmd.Flags().String("notes", "", "free-form notes")
	_ = remindAddCmd.MarkFlagRequired("date")
}

// daemonClient talks to the HTTP API of a running serve process; sessions
// live in its memory only.
type daemonClient struct {
	base string
	http *http.Client
}

func newDaemonClient() *daemonClient {
	cfg := loadConfig()
	listen := cfg.HTTP.Listen
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return &daemonClient{
		base: "http://" + listen,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends a request and decodes the JSON reply into out. API errors are
// returned with the server's message; reminder status replies are decoded
// even on 4xx so the caller can print them.
func (c *daemonClient) do(method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("contact daemon at %s (is `taxprep serve` running with http.enabled?): %w", c.base, err)
	}
	defer resp.Body.Close()

	var apiErr struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return resp.StatusCode, fmt.Errorf("%s", apiErr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func sessionPath(key string) string {
	return "/api/sessions/" + url.PathEscape(key)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect sessions of the running daemon",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []struct {
			SessionID  string `json:"session_id"`
			SessionKey string `json:"session_key"`
			Status     string `json:"status"`
			Turns      int64  `json:"turns"`
			UpdatedAt  string `json:"updated_at"`
		}
		if _, err := newDaemonClient().do(http.MethodGet, "/api/sessions", nil, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tID\tSTATUS\tMESSAGES\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.SessionKey, s.SessionID, s.Status, s.Turns, s.UpdatedAt)
		}
		return w.Flush()
	},
}

var sessionAgendaCmd = &cobra.Command{
	Use:   "agenda <session-key>",
	Short: "Show a session's reminders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		if _, err := newDaemonClient().do(http.MethodGet, sessionPath(args[0])+"/agenda", nil, &resp); err != nil {
			return err
		}
		fmt.Println(resp["agenda"])
		return nil
	},
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Manage reminders of a session on the running daemon",
}

func printStatus(code int, resp map[string]string) error {
	fmt.Println(resp["status"])
	if code != http.StatusOK {
		return fmt.Errorf("request failed with status %d", code)
	}
	return nil
}

var remindAddCmd = &cobra.Command{
	Use:   "add <session-key> <title>",
	Short: "Add a reminder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := types.ReminderInput{Title: strings.Join(args[1:], " ")}
		in.Date, _ = cmd.Flags().GetString("date")
		in.Time, _ = cmd.Flags().GetString("time")
		in.Notes, _ = cmd.Flags().GetString("notes")

		var resp map[string]string
		code, err := newDaemonClient().do(http.MethodPost, sessionPath(args[0])+"/reminders", in, &resp)
		if err != nil {
			return err
		}
		return printStatus(code, resp)
	},
}

var remindDoneCmd = &cobra.Command{
	Use:   "done <session-key> <id>",
	Short: "Toggle a reminder between pending and done",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		code, err := newDaemonClient().do(http.MethodPost, sessionPath(args[0])+"/reminders/"+url.PathEscape(args[1])+"/toggle", nil, &resp)
		if err != nil {
			return err
		}
		return printStatus(code, resp)
	},
}

var remindDeleteCmd = &cobra.Command{
	Use:   "delete <session-key> <id>",
	Short: "Delete a reminder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		code, err := newDaemonClient().do(http.MethodDelete, sessionPath(args[0])+"/reminders/"+url.PathEscape(args[1]), nil, &resp)
		if err != nil {
			return err
		}
		return printStatus(code, resp)
	},
}
