package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFile(t *testing.T) {
	dir := t.TempDir()
	pf := newPIDFile(dir)
	if string(pf) != filepath.Join(dir, "taxprep.pid") {
		t.Errorf("unexpected path %s", pf)
	}

	if _, err := pf.running(); !errors.Is(err, errNoDaemon) {
		t.Errorf("expected errNoDaemon without a file, got %v", err)
	}

	if err := pf.write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := pf.running()
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), pid)
	}

	pf.remove()
	if _, err := os.Stat(string(pf)); !os.IsNotExist(err) {
		t.Errorf("expected PID file removed, got %v", err)
	}
}

func TestPIDFileCorrupt(t *testing.T) {
	pf := newPIDFile(t.TempDir())
	if err := os.WriteFile(string(pf), []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := pf.running(); err == nil || errors.Is(err, errNoDaemon) {
		t.Errorf("expected corrupt file error, got %v", err)
	}
}
