package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	defer l.Close()

	l.Infof("assigned %s to %s", "el-abc", "ag-w1")
	l.Errorf("merge failed: %s", "conflict")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "assigned el-abc to ag-w1") {
		t.Errorf("info line missing from %q", out)
	}
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "merge failed: conflict") {
		t.Errorf("error line missing from %q", out)
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	l := Nop()
	l.Debugf("ignored")
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	var nilLogger *DebugLogger
	nilLogger.Infof("also ignored")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}
