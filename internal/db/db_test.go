package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenCreatesWorkspaceDatabase(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("expected database file: %v", err)
	}

	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign keys off: fk=%d err=%v", fk, err)
	}
	var mode string
	if err := conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || !strings.EqualFold(mode, "wal") {
		t.Fatalf("expected wal journal, got %q err=%v", mode, err)
	}
}

func TestOpenFileOverride(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "custom.db")
	conn, err := OpenContext(context.Background(), Config{File: file, BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("expected database at override path: %v", err)
	}
	var busy int
	if err := conn.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil || busy != 1000 {
		t.Fatalf("busy_timeout=%d err=%v", busy, err)
	}
}

func TestDSNBeginsImmediate(t *testing.T) {
	dsn := Config{Workspace: "ws"}.dsn()
	if !strings.HasPrefix(dsn, "file:"+Path("ws")+"?") || !strings.Contains(dsn, "_txlock=immediate") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if !strings.Contains(dsn, "busy_timeout%285000%29") {
		t.Fatalf("default busy timeout missing from %q", dsn)
	}
}

func TestPathDefaultsToCurrentDir(t *testing.T) {
	if got := Path(""); got != filepath.Join(".", ".dailyrise", "dailyrise.db") {
		t.Fatalf("unexpected path %q", got)
	}
}
