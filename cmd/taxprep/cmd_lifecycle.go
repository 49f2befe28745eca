package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

var errNoDaemon = errors.New("no running daemon")

// pidFile is the serve process's PID file under the data dir.
type pidFile string

func newPIDFile(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "taxprep.pid"))
}

func (p pidFile) write() error {
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(string(p), []byte(data), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func (p pidFile) remove() {
	_ = os.Remove(string(p))
}

// running returns the recorded PID if that process still answers signal 0.
func (p pidFile) running() (int, error) {
	data, err := os.ReadFile(string(p))
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w (no PID file at %s)", errNoDaemon, p)
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("corrupt PID file %s", p)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("%w (process %d is gone)", errNoDaemon, pid)
	}
	return pid, nil
}

func (p pidFile) signal(sig syscall.Signal) (int, error) {
	pid, err := p.running()
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return 0, fmt.Errorf("send %v to %d: %w", sig, pid, err)
	}
	return pid, nil
}

func daemonPIDFile() pidFile {
	return newPIDFile(loadConfig().DataDir)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPIDFile().signal(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec the running daemon so it reloads config and rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPIDFile().signal(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d).\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running and its API answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPIDFile().running()
		if err != nil {
			fmt.Fprintf(os.Stdout, "%s %v\n", red("stopped:"), err)
			return nil
		}
		fmt.Fprintf(os.Stdout, "%s PID %d\n", green("running:"), pid)

		if !loadConfig().HTTP.Enabled {
			fmt.Fprintln(os.Stdout, "http:    disabled")
			return nil
		}
		c := newDaemonClient()
		var health map[string]string
		if _, err := c.do(http.MethodGet, "/health", nil, &health); err != nil {
			fmt.Fprintf(os.Stdout, "http:    %s %s (%v)\n", c.base, yellow("unreachable"), err)
			return nil
		}
		fmt.Fprintf(os.Stdout, "http:    %s %s\n", c.base, health["status"])
		return nil
	},
}
